package router

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"voxbot/internal/runtime/supervisor"
	kit "voxbot/internal/transport"
	"voxbot/pkg/logx"
	"voxbot/pkg/tgui"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultQueueSize = 256

	unknownText = "Unknown command. Try /help"
	adminText   = "⛔ This command is for admins only."
	busyText    = "⏳ Busy right now, please try again in a moment."
	failText    = "⚠️ Something went wrong. Please try again later."
)

// Command is a slash command. Name is matched case-insensitively without
// the leading slash.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Admin restricts the command to configured admins.
	Admin bool
	// Public commands are let through the forced-subscription gate.
	Public bool
	// Hidden commands are left out of /help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute handles inline button presses whose data is
// "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Admin   bool
	Public  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one routed update.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	From     kit.User
	Message  *kit.Message
	Callback *kit.Callback

	// Command is the command name, "cb:scope:action", "media" or "text".
	Command string
	Args    []string
	RawArgs string
	Payload string

	ReqID  string
	Admin  bool
	Public bool

	Adapter kit.Adapter
	Logger  logx.Logger

	answered bool
}

// Reply sends plain text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
}

// ReplyHTML sends text with ParseMode=HTML and optional markup.
func (r *Request) ReplyHTML(ctx context.Context, text string, markup any) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkup: markup})
}

// Answer acknowledges the callback with an optional toast. Only the first
// call reaches Telegram.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Callback == nil || r.answered {
		return nil
	}
	r.answered = true
	return r.Adapter.AnswerCallback(ctx, r.Callback.ID, text)
}

// userError is shown to the user verbatim instead of the generic failure text.
type userError struct{ msg string }

func (e *userError) Error() string { return e.msg }

// Errorf returns an error whose text is sent back to the user.
func Errorf(msg string) error { return &userError{msg: msg} }

func isUserError(err error) bool {
	var ue *userError
	return errors.As(err, &ue)
}

type Option func(*Router)

func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.jobs = make(chan func(), n)
		}
	}
}

// WithAdminCheck installs the predicate behind Command.Admin.
func WithAdminCheck(fn func(int64) bool) Option { return func(r *Router) { r.isAdmin = fn } }

// WithUpdateHook is called once per received update with its kind.
func WithUpdateHook(fn func(kind string)) Option { return func(r *Router) { r.onUpdate = fn } }

// Router dispatches updates to handlers on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	cmds      map[string]*Command
	order     []string
	aliases   map[string]string
	callbacks map[string]CallbackRoute
	media     HandlerFunc
	text      HandlerFunc
	gates     []Middleware
	isAdmin   func(int64) bool

	adapter  kit.Adapter
	log      logx.Logger
	onUpdate func(kind string)
	workers  int

	jobs    chan func()
	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(adapter kit.Adapter, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cmds:      map[string]*Command{},
		aliases:   map[string]string{},
		callbacks: map[string]CallbackRoute{},
		adapter:   adapter,
		log:       log.With(logx.Comp("telegram.router")),
		jobs:      make(chan func(), defaultQueueSize),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = max(2, runtime.NumCPU())
	}
	return r
}

// Handle registers commands. A later registration replaces an earlier one
// with the same name.
func (r *Router) Handle(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		if _, ok := r.cmds[name]; !ok {
			r.order = append(r.order, name)
		}
		cmd := c
		r.cmds[name] = &cmd
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				r.aliases[a] = name
			}
		}
	}
}

func (r *Router) HandleCallback(routes ...CallbackRoute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range routes {
		if cb.Handle == nil {
			continue
		}
		r.callbacks[cb.Scope+":"+cb.Action] = cb
	}
}

// HandleMedia sets the handler for messages that carry a file.
func (r *Router) HandleMedia(h HandlerFunc) {
	r.mu.Lock()
	r.media = h
	r.mu.Unlock()
}

// HandleText sets the handler for plain text that is not a command.
func (r *Router) HandleText(h HandlerFunc) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

// Use appends gates that run for every routed update, in order, after the
// request logger and timeout.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	r.gates = append(r.gates, mw...)
	r.mu.Unlock()
}

// SetAdminCheck swaps the admin predicate; safe during hot reload.
func (r *Router) SetAdminCheck(fn func(int64) bool) {
	r.mu.Lock()
	r.isAdmin = fn
	r.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, *r.cmds[n])
	}
	return out
}

func (r *Router) admin(id int64) bool {
	r.mu.RLock()
	fn := r.isAdmin
	r.mu.RUnlock()
	return fn != nil && fn(id)
}

// Supervisor returns the worker pool supervisor, nil when not running.
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// tryEnqueue tolerates a closed jobs channel during shutdown.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))
	r.setSupervisor(sup, true)
	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.setSupervisor(sup, false)
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) hook(kind string) {
	if r.onUpdate != nil {
		r.onUpdate(kind)
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from kit.User, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		From:    from,
		Command: command,
		ReqID:   rid,
		Admin:   r.admin(from.ID),
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from.ID),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	name, args, raw, isCmd := parseCommand(msg.Text)
	if !isCmd && msg.Media != nil {
		name, args, raw, isCmd = parseCommand(msg.Caption)
	}

	r.mu.RLock()
	var cmd *Command
	if isCmd {
		if c, ok := r.cmds[name]; ok {
			cmd = c
		} else if target, ok := r.aliases[name]; ok {
			cmd = r.cmds[target]
		}
	}
	media, text := r.media, r.text
	r.mu.RUnlock()

	switch {
	case cmd != nil:
		r.hook("command")
		req := r.newRequest(up, chat, msg.From, cmd.Name)
		req.Message, req.Args, req.RawArgs, req.Public = msg, args, raw, cmd.Public
		if cmd.Admin && !req.Admin {
			r.run(ctx, req, replyWith(adminText), 0)
			return
		}
		r.run(ctx, req, cmd.Handle, orDefault(cmd.Timeout))
	case isCmd:
		r.hook("command")
		req := r.newRequest(up, chat, msg.From, name)
		req.Message = msg
		r.run(ctx, req, replyWith(unknownText), 0)
	case msg.Media != nil && media != nil:
		r.hook("media")
		req := r.newRequest(up, chat, msg.From, "media")
		req.Message = msg
		r.run(ctx, req, media, 0)
	case text != nil && strings.TrimSpace(msg.Text) != "":
		r.hook("text")
		req := r.newRequest(up, chat, msg.From, "text")
		req.Message = msg
		r.run(ctx, req, text, defaultTimeout)
	default:
		r.hook("other")
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	r.hook("callback")
	data, parsed := tgui.ParseData(strings.TrimSpace(cb.Data))

	r.mu.RLock()
	route, ok := r.callbacks[data.Scope+":"+data.Action]
	r.mu.RUnlock()
	if !parsed || !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.From, "cb:"+data.Scope+":"+data.Action)
	req.Callback, req.Payload, req.Public = cb, data.Payload, route.Public
	if route.Admin && !req.Admin {
		_ = req.Answer(ctx, "forbidden")
		return
	}
	r.run(ctx, req, route.Handle, orDefault(route.Timeout))
}

// run wraps h with the standard middlewares and queues it.
func (r *Router) run(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) {
	r.mu.RLock()
	gates := append([]Middleware(nil), r.gates...)
	r.mu.RUnlock()

	mws := append([]Middleware{MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout)}, gates...)
	final := Chain(h, mws...)

	job := func() {
		err := final(ctx, req)
		if err != nil {
			r.replyError(ctx, req, err)
		}
		_ = req.Answer(ctx, "")
	}
	if r.tryEnqueue(job) {
		return
	}
	r.log.Warn("router queue full", logx.String("cmd", req.Command), logx.Int64("from_id", req.From.ID))
	if req.Callback != nil {
		_ = req.Answer(ctx, "busy")
		return
	}
	_, _ = req.Reply(ctx, busyText)
}

func (r *Router) replyError(ctx context.Context, req *Request, err error) {
	if ctx.Err() != nil {
		return
	}
	text := failText
	var ue *userError
	if errors.As(err, &ue) {
		text = ue.msg
	}
	if req.Callback != nil && !req.answered {
		_ = req.Answer(ctx, text)
		return
	}
	_, _ = req.Reply(ctx, text)
}

func replyWith(text string) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		_, err := req.Reply(ctx, text)
		return err
	}
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
