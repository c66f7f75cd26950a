package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ga4u/internal/cache"
	"ga4u/internal/metrics"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// UnknownName is shown for senders whose profile cannot be resolved.
const UnknownName = "Unknown"

const nameKeyPrefix = "profile:name:"

var ErrInvalidCredentials = errors.New("invalid credentials")

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	CreateProfile(ctx context.Context, p *Profile) (*Profile, error)
	GetByEmail(ctx context.Context, email string) (*Profile, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Profile, error)
	UpdateFullName(ctx context.Context, id uuid.UUID, fullName string) (*Profile, error)
	Search(ctx context.Context, query string) ([]Profile, error)
}

type Service struct {
	repo      Store
	names     cache.Cache
	namesTTL  time.Duration
	jwtSecret string
	log       zerolog.Logger
}

type Claims struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	jwt.RegisteredClaims
}

func NewService(repo Store, names cache.Cache, namesTTL time.Duration, secret string, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		names:     names,
		namesTTL:  namesTTL,
		jwtSecret: secret,
		log:       log.With().Str("component", "user").Logger(),
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*Profile, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		PasswordHash: string(hashed),
	}
	return s.repo.CreateProfile(ctx, p)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	p, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ss, err := s.issueToken(p, time.Now())
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          p.ID,
		FullName:    p.FullName,
		Role:        p.Role,
	}, nil
}

func (s *Service) issueToken(p *Profile, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:   p.ID.String(),
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ga4u",
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

// ValidateToken returns the user id and role carried by a valid token.
func (s *Service) ValidateToken(tokenString string) (uuid.UUID, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer("ga4u"))
	if err != nil {
		return uuid.Nil, "", err
	}
	if !token.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid subject: %w", err)
	}
	return id, string(claims.Role), nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]Profile, error) {
	return s.repo.Search(ctx, query)
}

// UpdateFullName renames a profile and evicts its cached display name, so
// chat headers pick up the new name on the next lookup.
func (s *Service) UpdateFullName(ctx context.Context, id uuid.UUID, fullName string) (*Profile, error) {
	p, err := s.repo.UpdateFullName(ctx, id, strings.TrimSpace(fullName))
	if err != nil {
		return nil, err
	}
	if s.names != nil {
		if err := s.names.Del(ctx, nameKeyPrefix+id.String()); err != nil {
			s.log.Warn().Err(err).Str("user_id", id.String()).Msg("display name cache evict failed")
		}
	}
	return p, nil
}

// DisplayName picks full name, then the email local-part, then UnknownName.
func DisplayName(p Profile) string {
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(strings.TrimSpace(p.Email), "@"); local != "" {
		return local
	}
	return UnknownName
}

// DisplayNames resolves every id to a display name in one round trip per
// backend. Ids without a profile map to UnknownName. Cache failures are
// logged and fall through to the database.
func (s *Service) DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	missing := unique
	if s.names != nil {
		keys := make([]string, len(unique))
		for i, id := range unique {
			keys[i] = nameKeyPrefix + id.String()
		}
		hits, err := s.names.MGet(ctx, keys...)
		if err != nil {
			s.log.Warn().Err(err).Msg("display name cache read failed")
		} else {
			missing = missing[:0:0]
			for i, id := range unique {
				if name, ok := hits[keys[i]]; ok {
					out[id] = name
				} else {
					missing = append(missing, id)
				}
			}
			metrics.RecordCacheHit("profile_name", len(unique)-len(missing))
			metrics.RecordCacheMiss("profile_name", len(missing))
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	profiles, err := s.repo.GetByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("lookup profiles: %w", err)
	}
	for _, p := range profiles {
		name := DisplayName(p)
		out[p.ID] = name
		if s.names != nil {
			if err := s.names.Set(ctx, nameKeyPrefix+p.ID.String(), name, s.namesTTL); err != nil {
				s.log.Warn().Err(err).Str("user_id", p.ID.String()).Msg("display name cache write failed")
			}
		}
	}
	for _, id := range missing {
		if _, ok := out[id]; !ok {
			out[id] = UnknownName
		}
	}
	return out, nil
}
