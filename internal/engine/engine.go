package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"worksafe/internal/config"
	"worksafe/internal/docstore"
	"worksafe/internal/domain"
	"worksafe/internal/engine/auth"
	"worksafe/internal/events"
	"worksafe/internal/repo"
)

// CatalogLookup resolves item codes to catalog records.
type CatalogLookup interface {
	Lookup(no string) (domain.CatalogEntry, bool)
}

type Engine struct {
	Store   docstore.Store
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Catalog CatalogLookup
	Log     *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

func New(store docstore.Store, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:  store,
		Repo:   repo.Repo{Store: store},
		Events: events.Writer{Store: store},
		Config: cfg,
		Log:    zap.NewNop(),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) gate() auth.SigningGate {
	return auth.SigningGate{RequireRole: e.Config.Signing.RequireRole}
}

// today is the capture date written into signature slots.
func (e Engine) today() string {
	return e.now().Format(dateLayout)
}

const dateLayout = "2006-01-02"

// Profile returns the stored profile of uid, or an empty one.
func (e Engine) Profile(ctx context.Context, uid string) (domain.UserProfile, error) {
	if uid == "" {
		return domain.UserProfile{}, nil
	}
	p, err := e.Repo.GetProfile(ctx, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.UserProfile{UID: uid}, nil
	}
	return p, err
}

// ProfileInput carries profile fields; nil fields stay unchanged.
type ProfileInput struct {
	Email        *string
	DisplayName  *string
	PhotoURL     *string
	SignatureURL *string
	Role         *string
}

// SaveProfile updates the actor's own profile. A role must be one of the
// configured signature role labels.
func (e Engine) SaveProfile(ctx context.Context, actorID string, in ProfileInput) (domain.UserProfile, error) {
	if actorID == "" {
		return domain.UserProfile{}, domain.Invalid("uid", "actor is required")
	}
	fields := map[string]any{"uid": actorID}
	if in.Email != nil {
		fields["email"] = strings.TrimSpace(*in.Email)
	}
	if in.DisplayName != nil {
		fields["displayName"] = strings.TrimSpace(*in.DisplayName)
	}
	if in.PhotoURL != nil {
		fields["photoURL"] = *in.PhotoURL
	}
	if in.SignatureURL != nil {
		fields["signatureUrl"] = *in.SignatureURL
	}
	if in.Role != nil {
		role := strings.TrimSpace(*in.Role)
		if role != "" && !e.isRoleLabel(role) {
			return domain.UserProfile{}, domain.Invalid("role", fmt.Sprintf("unknown signing role %q", role))
		}
		fields["role"] = role
	}
	op, err := repo.MergeProfileOp(actorID, fields)
	if err != nil {
		return domain.UserProfile{}, err
	}
	evt, err := e.Events.Op(actorID, events.ProfileUpdated, "profile", actorID, actorID, events.EventPayload{"fields": keys(fields)})
	if err != nil {
		return domain.UserProfile{}, err
	}
	if err := e.Repo.Batch(ctx, []docstore.Op{op, evt}); err != nil {
		return domain.UserProfile{}, err
	}
	return e.Repo.GetProfile(ctx, actorID)
}

// EnsureProfile creates a profile for a freshly authenticated user.
func (e Engine) EnsureProfile(ctx context.Context, actorID, displayName, email string) (domain.UserProfile, error) {
	p, err := e.Repo.GetProfile(ctx, actorID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return p, err
	}
	if displayName == "" {
		displayName = actorID
	}
	return e.SaveProfile(ctx, actorID, ProfileInput{DisplayName: &displayName, Email: &email})
}

func (e Engine) isRoleLabel(label string) bool {
	for _, r := range e.Config.Agreement.SignatureRoles {
		if r.Label == label {
			return true
		}
	}
	return false
}

// ListEvents lists the audit trail of the actor's namespace.
func (e Engine) ListEvents(ctx context.Context, acc auth.Access, evtType, entityID string) ([]domain.Event, error) {
	if err := acc.RequireOwner("list events"); err != nil {
		return nil, err
	}
	return e.Events.List(ctx, acc.Namespace, evtType, entityID)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
