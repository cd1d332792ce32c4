package protocol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"warcreplay/internal/archive"
	"warcreplay/internal/collection"
	"warcreplay/internal/logging"
)

// DefaultProgressInterval is the minimum spacing of non-terminal progress
// events for one add.
const DefaultProgressInterval = 250 * time.Millisecond

// eventBuffer is the capacity of each task's event channel.
const eventBuffer = 16

// Adapter maps control messages onto a collection.Manager.
type Adapter struct {
	manager          *collection.Manager
	logger           *slog.Logger
	progressInterval time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithProgressInterval sets the minimum spacing of progress events.
// Zero disables throttling.
func WithProgressInterval(d time.Duration) Option {
	return func(a *Adapter) { a.progressInterval = d }
}

// New creates an Adapter. If logger is nil, logging is disabled.
func New(m *collection.Manager, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		manager:          m,
		logger:           logging.Default(logger).With("component", "protocol"),
		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle starts a task for req and returns the channel its events are
// delivered on. The channel is closed when the task ends. Unknown message
// kinds produce no events.
//
// An addColl is registered with the manager before Handle returns, so a
// cancelLoad handled after it always finds the add.
func (a *Adapter) Handle(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, eventBuffer)
	var pending *collection.Pending
	if req.MsgType == MsgAddColl {
		pending = a.manager.Begin(ctx, req.Name)
	}
	go func() {
		defer close(out)
		t := &task{a: a, ctx: ctx, out: out}
		switch req.MsgType {
		case MsgAddColl:
			defer pending.Done()
			t.addColl(pending.Context(), req)
		case MsgCancelLoad:
			t.cancelLoad(req)
		case MsgRemoveColl:
			t.removeColl(req)
		case MsgListAll:
			t.listAll()
		case MsgReload:
			t.reload(req)
		default:
			a.logger.Debug("ignoring message", "msg_type", req.MsgType)
		}
	}()
	return out
}

type task struct {
	a   *Adapter
	ctx context.Context
	out chan<- Event
}

func (t *task) send(ev Event) {
	select {
	case t.out <- ev:
	case <-t.ctx.Done():
	}
}

func (t *task) progress(name string, percent int, errMsg string) {
	t.send(ProgressEvent{MsgType: MsgCollProgress, Name: name, Percent: percent, Error: errMsg})
}

// addColl runs under ctx, which Cancel of the same name interrupts. Events
// are still sent under the task's own context.
func (t *task) addColl(ctx context.Context, req Request) {
	m := t.a.manager
	name := req.Name

	existing, err := m.Has(ctx, name)
	if err != nil {
		t.failed(ctx, name, err)
		return
	}
	if ctx.Err() != nil {
		t.a.logger.Debug("add interrupted", "name", name)
		return
	}
	if existing && req.SkipExisting {
		c, err := m.GetColl(ctx, name)
		if ctx.Err() != nil {
			t.a.logger.Debug("add interrupted", "name", name)
			return
		}
		if err != nil || c == nil {
			t.unexpected(name, errors.Join(err, errors.New("collection vanished")))
			return
		}
		t.send(AddedEvent{MsgType: MsgCollAdded, Name: name, SourceURL: c.Config.SourceURL})
		return
	}
	if existing {
		if _, err := m.DeleteColl(ctx, name); err != nil {
			t.failed(ctx, name, err)
			return
		}
	}

	sometimes := rate.Sometimes{Interval: t.a.progressInterval}
	onProgress := func(p archive.Progress) {
		if p.Err != nil {
			if errors.Is(p.Err, collection.ErrInvalidRequest) {
				t.progress(name, 0, ErrInvalidLoadRequest)
			}
			return
		}
		ev := ProgressEvent{
			MsgType:     MsgCollProgress,
			Name:        name,
			Percent:     p.Percent,
			CurrentSize: p.CurrentSize,
			TotalSize:   p.TotalSize,
		}
		if t.a.progressInterval <= 0 || p.Percent >= 100 {
			t.send(ev)
			return
		}
		sometimes.Do(func() { t.send(ev) })
	}

	addReq := collection.AddRequest{
		Name:           name,
		Type:           req.Type,
		Root:           req.Root,
		OnDemand:       req.OnDemand,
		TopTemplateURL: req.TopTemplateURL,
		ExtraConfig:    req.ExtraConfig,
	}
	if req.File != nil {
		addReq.File = collection.File{SourceURL: req.File.SourceURL, Name: req.File.Name, Headers: req.File.Headers}
	}

	c, err := m.AddCollection(ctx, addReq, onProgress)
	var auth *archive.AuthNeededError
	switch {
	case err == nil && c != nil:
		t.send(AddedEvent{MsgType: MsgCollAdded, Name: name, SourceURL: c.Config.SourceURL})
	case err == nil:
		t.unexpected(name, errors.New("collection vanished"))
	case errors.Is(err, collection.ErrInvalidRequest):
		// Reported through onProgress.
	case errors.Is(err, context.Canceled):
		t.a.logger.Debug("add interrupted", "name", name)
	case errors.As(err, &auth):
		t.a.logger.Warn("permission needed", "name", name, "file", auth.FileHandle)
		t.send(ProgressEvent{MsgType: MsgCollProgress, Name: name, Percent: 0, Error: ErrPermissionNeeded, FileHandle: auth.FileHandle})
	default:
		t.unexpected(name, err)
	}
}

// failed reports err unless ctx was canceled, in which case the add was
// interrupted and stays silent.
func (t *task) failed(ctx context.Context, name string, err error) {
	if ctx.Err() != nil {
		t.a.logger.Debug("add interrupted", "name", name)
		return
	}
	t.unexpected(name, err)
}

func (t *task) unexpected(name string, err error) {
	t.a.logger.Warn("add failed", "name", name, "error", err)
	t.progress(name, 0, unexpectedErrorPrefix+err.Error())
}

func (t *task) cancelLoad(req Request) {
	if _, err := t.a.manager.Cancel(t.ctx, req.Name); err != nil {
		t.a.logger.Warn("cancel failed", "name", req.Name, "error", err)
	}
}

func (t *task) removeColl(req Request) {
	m := t.a.manager
	ok, err := m.Has(t.ctx, req.Name)
	if err != nil || !ok {
		return
	}
	if _, err := m.DeleteColl(t.ctx, req.Name); err != nil {
		t.a.logger.Warn("remove failed", "name", req.Name, "error", err)
	}
	t.listAll()
}

func (t *task) listAll() {
	recs, err := t.a.manager.List(t.ctx)
	if err != nil {
		t.a.logger.Warn("list failed", "error", err)
		return
	}
	colls := make([]ListedColl, 0, len(recs))
	for _, rec := range recs {
		colls = append(colls, ListedColl{
			Name:       rec.Name,
			Prefix:     rec.Name,
			PageList:   []any{},
			SourceName: rec.Config.SourceName,
		})
	}
	t.send(ListAllEvent{MsgType: MsgListAll, Colls: colls})
}

func (t *task) reload(req Request) {
	if _, err := t.a.manager.Reload(t.ctx, req.Name); err != nil {
		t.a.logger.Warn("reload failed", "name", req.Name, "error", err)
	}
}
