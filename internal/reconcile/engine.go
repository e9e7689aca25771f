// Package reconcile drives one synchronization run: every user and group of
// a snapshot is located or created, mapped, persisted and placed, then every
// deletion reference is removed. A failing entity is recorded and the run
// moves on; only a lost directory connection or a cancelled context ends
// the run early.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/mapping"
	"github.com/isometry/haridsync/internal/placement"
	"github.com/isometry/haridsync/internal/secret"
	"github.com/isometry/haridsync/internal/source"
)

// Repository is the directory store used by the engine.
type Repository interface {
	FindByIdentifier(ctx context.Context, kind adldap.Kind, id string) (*adldap.Entry, error)
	Create(kind adldap.Kind, identifier, parentDN string) *adldap.Entry
	Persist(ctx context.Context, e *adldap.Entry) error
	AuxiliaryClasses(kind adldap.Kind) []string
	DeleteMatching(ctx context.Context, kind adldap.Kind, filter string) (int, error)
}

// Observer is notified of every entity result.
type Observer interface {
	EntityProcessed(res Result)
}

// Config wires an Engine.
type Config struct {
	Repository     Repository
	Mapper         *mapping.Mapper
	UserPlacement  *placement.Resolver
	GroupPlacement *placement.Resolver
	Observer       Observer
}

// Engine reconciles snapshots against the directory.
type Engine struct {
	repo     Repository
	mapper   *mapping.Mapper
	users    *placement.Resolver
	groups   *placement.Resolver
	observer Observer
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Repository == nil:
		return nil, errors.New("reconcile: repository is required")
	case cfg.Mapper == nil:
		return nil, errors.New("reconcile: mapper is required")
	case cfg.UserPlacement == nil || cfg.GroupPlacement == nil:
		return nil, errors.New("reconcile: user and group placement are required")
	}
	return &Engine{
		repo:     cfg.Repository,
		mapper:   cfg.Mapper,
		users:    cfg.UserPlacement,
		groups:   cfg.GroupPlacement,
		observer: cfg.Observer,
	}, nil
}

// identifierField returns the record field holding the sAMAccountName of kind.
func identifierField(kind adldap.Kind) string {
	if kind == adldap.KindGroup {
		return "name"
	}
	return "uid"
}

// numberField returns the record field holding the POSIX id of kind.
func numberField(kind adldap.Kind) string {
	if kind == adldap.KindGroup {
		return "gid_number"
	}
	return "uid_number"
}

func (e *Engine) resolver(kind adldap.Kind) *placement.Resolver {
	if kind == adldap.KindGroup {
		return e.groups
	}
	return e.users
}

// isFatal reports whether err must end the run.
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		adldap.IsConnectionLost(err)
}

// Run processes users, groups, deleted users and deleted groups in that
// order. The returned error is non-nil only when the run was aborted; the
// report is returned either way.
func (e *Engine) Run(ctx context.Context, snap *source.Snapshot) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	logger := adldap.Subsystem(ctx, "reconcile").With("run_id", report.RunID)
	ctx = adldap.WithLogger(ctx, adldap.LoggerFrom(ctx).With("run_id", report.RunID))

	e.mapper.Reset()
	logger.Info("Starting synchronization run", adldap.Fields(snap.Counts())...)

	phases := []struct {
		kind    adldap.Kind
		records []source.Record
		step    func(context.Context, adldap.Kind, source.Record) (Result, error)
	}{
		{adldap.KindUser, snap.Users, e.syncEntity},
		{adldap.KindGroup, snap.Groups, e.syncEntity},
		{adldap.KindUser, snap.DeletedUsers, e.deleteEntity},
		{adldap.KindGroup, snap.DeletedGroups, e.deleteEntity},
	}

	for _, phase := range phases {
		for _, rec := range phase.records {
			if err := ctx.Err(); err != nil {
				return e.abort(logger, report, err)
			}

			res, fatal := phase.step(ctx, phase.kind, rec)
			e.record(logger, report, res)
			if fatal != nil {
				return e.abort(logger, report, fatal)
			}
		}
	}

	report.Finished = time.Now()
	summary := report.Summary()
	summary["duration_ms"] = report.Duration().Milliseconds()
	logger.Info("Synchronization run completed", adldap.Fields(summary)...)
	return report, nil
}

func (e *Engine) abort(logger hclog.Logger, report *Report, err error) (*Report, error) {
	report.Finished = time.Now()
	logger.Error("Synchronization run aborted", "error", err, "processed", len(report.Results))
	return report, fmt.Errorf("synchronization aborted: %w", err)
}

func (e *Engine) record(logger hclog.Logger, report *Report, res Result) {
	report.Add(res)
	if e.observer != nil {
		e.observer.EntityProcessed(res)
	}

	args := []any{"kind", res.Kind.String(), "identifier", res.Identifier, "outcome", string(res.Outcome)}
	if res.DN != "" {
		args = append(args, "dn", res.DN)
	}
	if res.GUID != uuid.Nil {
		args = append(args, "guid", res.GUID.String())
	}
	if res.SID != "" {
		args = append(args, "sid", res.SID)
	}
	if res.Relocated {
		args = append(args, "relocated", true)
	}
	if res.Err != nil {
		logger.Error("Entity failed", append(args, "error", res.Err.Error())...)
		return
	}
	logger.Debug("Entity processed", args...)
}

// failed turns err into a failed result and reports whether it is fatal.
func failed(res Result, err error) (Result, error) {
	res.Outcome = OutcomeFailed
	res.Err = err
	if isFatal(err) {
		return res, err
	}
	return res, nil
}

// syncEntity creates or updates the entry for rec.
func (e *Engine) syncEntity(ctx context.Context, kind adldap.Kind, rec source.Record) (Result, error) {
	res := Result{Kind: kind}

	field := identifierField(kind)
	id, ok := rec.String(field)
	if !ok || id == "" {
		return failed(res, fmt.Errorf("record has no %s", field))
	}
	res.Identifier = id

	entry, err := e.repo.FindByIdentifier(ctx, kind, id)
	if err != nil {
		return failed(res, err)
	}

	resolver := e.resolver(kind)
	previous := ""
	if entry == nil {
		parent, err := resolver.Desired(rec)
		if err != nil {
			return failed(res, err)
		}
		entry = e.repo.Create(kind, id, parent)
	} else {
		previous = placement.Capture(entry)
		res.DN = entry.DN
		res.GUID = entry.GUID
		res.SID = entry.SID
	}

	for _, class := range e.repo.AuxiliaryClasses(kind) {
		entry.AddObjectClass(class)
	}

	assignments, mapErr := e.mapper.Map(ctx, kind, rec, entry)
	if mapErr != nil {
		var decErr *secret.DecryptionError
		if !errors.As(mapErr, &decErr) {
			return failed(res, mapErr)
		}
	}
	mapping.Apply(entry, assignments)

	created := entry.IsNew()
	if err := e.repo.Persist(ctx, entry); err != nil {
		return failed(res, err)
	}
	res.DN = entry.DN
	if kind == adldap.KindUser {
		e.mapper.Forget(id)
	}

	relocated, err := resolver.Ensure(ctx, entry, rec, previous)
	if err != nil {
		return failed(res, err)
	}
	res.Relocated = relocated
	res.DN = entry.DN

	if mapErr != nil {
		return failed(res, mapErr)
	}
	if created {
		res.Outcome = OutcomeCreated
	} else {
		res.Outcome = OutcomeUpdated
	}
	return res, nil
}

// deleteEntity removes the entries matching both the identifier and the
// POSIX id of ref. No match is a skip.
func (e *Engine) deleteEntity(ctx context.Context, kind adldap.Kind, ref source.Record) (Result, error) {
	res := Result{Kind: kind}

	field := identifierField(kind)
	id, ok := ref.String(field)
	if !ok || id == "" {
		return failed(res, fmt.Errorf("deletion reference has no %s", field))
	}
	res.Identifier = id

	number, ok := ref.String(numberField(kind))
	if !ok || number == "" {
		return failed(res, fmt.Errorf("deletion reference %q has no %s", id, numberField(kind)))
	}

	filter := adldap.AndFilter(
		adldap.EqualityFilter("sAMAccountName", id),
		adldap.EqualityFilter(kind.NumberAttribute(), number),
	)
	n, err := e.repo.DeleteMatching(ctx, kind, filter)
	if kind == adldap.KindUser {
		e.mapper.Forget(id)
	}
	if err != nil {
		var persistErr *adldap.PersistError
		if errors.As(err, &persistErr) {
			res.DN = persistErr.DN
		}
		return failed(res, err)
	}

	if n == 0 {
		res.Outcome = OutcomeSkipped
		return res, nil
	}
	res.Outcome = OutcomeDeleted
	return res, nil
}
