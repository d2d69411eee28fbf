package app

import (
	"context"
	"strings"

	"voxbot/internal/config"
	"voxbot/internal/eventbus"
	"voxbot/pkg/logx"
	"voxbot/pkg/systemd"
)

// reloadLoop applies every config the manager publishes until ctx ends.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			_, _ = systemd.Reloading()
			a.apply(ctx, last, next)
			_, _ = systemd.Ready()
			last = next
		}
	}
}

// apply pushes the hot sections of next into the running components and
// returns what changed.
func (a *App) apply(ctx context.Context, prev, next *config.Config) config.Change {
	ch := config.SummarizeChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return ch
	}
	changed := func(section string) bool {
		for _, s := range ch.Sections {
			if s == section {
				return true
			}
		}
		return false
	}

	if changed("logging") || changed("telegram") {
		a.logs.Apply(logConfig(next))
	}
	if changed("admins") {
		a.setAdmins(next.Telegram.AdminIDs)
	}
	if changed("broadcast") {
		a.bcast.Apply(broadcastConfig(next))
	}
	if changed("rate_limit") {
		a.limiter.Update(rateLimit(next))
	}
	if changed("force_subscribe") {
		a.checker.Apply(checkerConfig(next))
	}
	if changed("metrics") {
		a.obs.Reconfigure(ctx, serverConfig(next))
	}
	if changed("maintenance") || changed("broadcast") {
		a.maint.SetTimezone(next.Maintenance.Timezone)
		if err := a.maint.Schedule(a.maintenanceJobs(next)...); err != nil {
			a.log.Warn("maintenance reschedule incomplete", logx.Err(err))
		}
	}

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: ch.Sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
	return ch
}
