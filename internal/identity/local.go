package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/775kkk/logic-signal-protector-sub000/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTokenTTL is the lifetime of tokens issued by Local.
const DefaultTokenTTL = 24 * time.Hour

const (
	minLoginLen    = 3
	maxLoginLen    = 64
	minPasswordLen = 6
)

// Local is a Service backed by the shared relational store.
type Local struct {
	db          *gorm.DB
	tokenTTL    time.Duration
	defaultRole string
	bcryptCost  int
	now         func() time.Time
}

// LocalOpts holds parameters for creating a Local service.
type LocalOpts struct {
	DB          *gorm.DB
	TokenTTL    time.Duration // defaults to DefaultTokenTTL
	DefaultRole string        // granted on Register; defaults to store.DefaultRoleCode
	BcryptCost  int           // defaults to bcrypt.DefaultCost
	Clock       func() time.Time
}

// NewLocal creates a Local service.
func NewLocal(opts LocalOpts) (*Local, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("identity: local: db is required")
	}
	l := &Local{
		db:          opts.DB,
		tokenTTL:    opts.TokenTTL,
		defaultRole: opts.DefaultRole,
		bcryptCost:  opts.BcryptCost,
		now:         opts.Clock,
	}
	if l.tokenTTL <= 0 {
		l.tokenTTL = DefaultTokenTTL
	}
	if l.defaultRole == "" {
		l.defaultRole = store.DefaultRoleCode
	}
	if l.bcryptCost == 0 {
		l.bcryptCost = bcrypt.DefaultCost
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// Resolve implements Service.
func (l *Local) Resolve(ctx context.Context, providerCode, externalUserID string) (Link, error) {
	var link store.ChannelLink
	err := l.db.WithContext(ctx).
		Where("provider_code = ? AND external_user_id = ?", providerCode, externalUserID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Link{}, nil
	}
	if err != nil {
		return Link{}, fmt.Errorf("identity: resolve %s/%s: %w", providerCode, externalUserID, err)
	}

	var user store.User
	if err := l.db.WithContext(ctx).Preload("Roles.Permissions").Preload("Overrides").
		First(&user, link.UserID).Error; err != nil {
		return Link{}, fmt.Errorf("identity: load user %d: %w", link.UserID, err)
	}
	if !user.Active {
		return Link{}, nil
	}
	return linkFor(user), nil
}

// linkFor computes the router-facing view of user.
func linkFor(user store.User) Link {
	var roles, rolePerms, allow, deny []string
	for _, r := range user.Roles {
		roles = append(roles, r.Code)
		for _, p := range r.Permissions {
			rolePerms = append(rolePerms, p.PermCode)
		}
	}
	for _, o := range user.Overrides {
		switch o.Effect {
		case store.EffectAllow:
			allow = append(allow, o.PermCode)
		case store.EffectDeny:
			deny = append(deny, o.PermCode)
		}
	}
	sort.Strings(roles)
	return Link{
		Linked: true,
		UserID: strconv.FormatUint(uint64(user.ID), 10),
		Login:  user.Login,
		Roles:  roles,
		Perms:  EffectivePermissions(rolePerms, allow, deny),
	}
}

// Login implements Service.
func (l *Local) Login(ctx context.Context, providerCode, externalUserID, login, password string) (TokenEnvelope, error) {
	login = strings.TrimSpace(login)
	var user store.User
	err := l.db.WithContext(ctx).Where("login = ?", login).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenEnvelope{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenEnvelope{}, fmt.Errorf("identity: login %s: %w", login, err)
	}
	if !user.Active {
		return TokenEnvelope{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return TokenEnvelope{}, ErrInvalidCredentials
	}
	if err := l.link(ctx, l.db, providerCode, externalUserID, user.ID); err != nil {
		return TokenEnvelope{}, err
	}
	return l.issue(ctx, user)
}

// Register implements Service.
func (l *Local) Register(ctx context.Context, providerCode, externalUserID, login, password string) (TokenEnvelope, error) {
	login = strings.TrimSpace(login)
	if err := validateCredentials(login, password); err != nil {
		return TokenEnvelope{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.bcryptCost)
	if err != nil {
		return TokenEnvelope{}, fmt.Errorf("identity: hash password: %w", err)
	}

	var user store.User
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&store.User{}).Where("login = ?", login).Count(&count).Error; err != nil {
			return fmt.Errorf("check login: %w", err)
		}
		if count > 0 {
			return ErrLoginTaken
		}
		user = store.User{Login: login, PasswordHash: string(hash), Active: true}
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		var role store.Role
		if err := tx.Where("code = ?", l.defaultRole).First(&role).Error; err == nil {
			if err := tx.Model(&user).Association("Roles").Append(&role); err != nil {
				return fmt.Errorf("grant role %s: %w", l.defaultRole, err)
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load role %s: %w", l.defaultRole, err)
		}
		return l.link(ctx, tx, providerCode, externalUserID, user.ID)
	})
	if errors.Is(err, ErrLoginTaken) {
		return TokenEnvelope{}, ErrLoginTaken
	}
	if err != nil {
		return TokenEnvelope{}, fmt.Errorf("identity: register %s: %w", login, err)
	}
	return l.issue(ctx, user)
}

// Unlink implements Service.
func (l *Local) Unlink(ctx context.Context, providerCode, externalUserID string) error {
	res := l.db.WithContext(ctx).
		Where("provider_code = ? AND external_user_id = ?", providerCode, externalUserID).
		Delete(&store.ChannelLink{})
	if res.Error != nil {
		return fmt.Errorf("identity: unlink %s/%s: %w", providerCode, externalUserID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotLinked
	}
	return nil
}

// IssueAccessToken implements Service.
func (l *Local) IssueAccessToken(ctx context.Context, userID string) (string, error) {
	id, err := strconv.ParseUint(userID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: user id %q", ErrInvalidInput, userID)
	}
	var user store.User
	if err := l.db.WithContext(ctx).First(&user, uint(id)).Error; err != nil {
		return "", fmt.Errorf("identity: load user %s: %w", userID, err)
	}
	env, err := l.issue(ctx, user)
	if err != nil {
		return "", err
	}
	return env.AccessToken, nil
}

// Grant adds a role to the user with the given login.
func (l *Local) Grant(ctx context.Context, login, roleCode string) error {
	var user store.User
	if err := l.db.WithContext(ctx).Where("login = ?", login).First(&user).Error; err != nil {
		return fmt.Errorf("identity: grant: load user %s: %w", login, err)
	}
	var role store.Role
	if err := l.db.WithContext(ctx).Where("code = ?", roleCode).First(&role).Error; err != nil {
		return fmt.Errorf("identity: grant: load role %s: %w", roleCode, err)
	}
	if err := l.db.WithContext(ctx).Model(&user).Association("Roles").Append(&role); err != nil {
		return fmt.Errorf("identity: grant %s to %s: %w", roleCode, login, err)
	}
	return nil
}

// SetOverride records an ALLOW or DENY override for the user with the given
// login, replacing any previous override for the same permission.
func (l *Local) SetOverride(ctx context.Context, login, permCode, effect, reason string) error {
	effect = strings.ToUpper(effect)
	if effect != store.EffectAllow && effect != store.EffectDeny {
		return fmt.Errorf("%w: effect %q (ALLOW, DENY)", ErrInvalidInput, effect)
	}
	var user store.User
	if err := l.db.WithContext(ctx).Where("login = ?", login).First(&user).Error; err != nil {
		return fmt.Errorf("identity: override: load user %s: %w", login, err)
	}
	o := store.PermissionOverride{UserID: user.ID, PermCode: permCode, Effect: effect, Reason: reason}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "perm_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"effect", "reason"}),
	}).Create(&o).Error
	if err != nil {
		return fmt.Errorf("identity: override %s %s for %s: %w", effect, permCode, login, err)
	}
	return nil
}

// link binds the chat identity to userID, replacing an existing link.
func (l *Local) link(ctx context.Context, db *gorm.DB, providerCode, externalUserID string, userID uint) error {
	cl := store.ChannelLink{ProviderCode: providerCode, ExternalUserID: externalUserID, UserID: userID}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_code"}, {Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id"}),
	}).Create(&cl).Error
	if err != nil {
		return fmt.Errorf("identity: link %s/%s: %w", providerCode, externalUserID, err)
	}
	return nil
}

func (l *Local) issue(ctx context.Context, user store.User) (TokenEnvelope, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return TokenEnvelope{}, fmt.Errorf("identity: generate token entropy: %w", err)
	}
	tok := store.AccessToken{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		UserID:    user.ID,
		ExpiresAt: l.now().Add(l.tokenTTL),
	}
	if err := l.db.WithContext(ctx).Create(&tok).Error; err != nil {
		return TokenEnvelope{}, fmt.Errorf("identity: store token: %w", err)
	}
	return TokenEnvelope{
		UserID:      strconv.FormatUint(uint64(user.ID), 10),
		Login:       user.Login,
		AccessToken: tok.Token,
		ExpiresAt:   tok.ExpiresAt,
	}, nil
}

func validateCredentials(login, password string) error {
	if len(login) < minLoginLen || len(login) > maxLoginLen {
		return fmt.Errorf("%w: login must be %d-%d characters", ErrInvalidInput, minLoginLen, maxLoginLen)
	}
	if strings.ContainsAny(login, " \t:") {
		return fmt.Errorf("%w: login must not contain spaces or colons", ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
