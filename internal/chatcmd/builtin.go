package chatcmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/notice"
	"github.com/dshills/addonlib/internal/permission"
	"github.com/dshills/addonlib/internal/transport"
)

// MessageMenuOpen tells a client to open the settings menu.
const MessageMenuOpen = "addonlib.menu.open"

// MenuPayload is the body of MessageMenuOpen.
type MenuPayload struct {
	Title   string                    `json:"title"`
	Modules []module.ModuleDescriptor `json:"modules"`
}

// Syncer pushes server-scoped modules to clients.
type Syncer interface {
	SyncModules(ctx context.Context, target transport.Target, ids ...string) error
}

// MenuCommand is !addonmenu: it sends the descriptors of every module to the
// sender.
func MenuCommand(reg *module.Registry, t transport.Transport, notices *notice.Sender) Command {
	return Command{
		Name:       "addonmenu",
		Aliases:    []string{"addons"},
		Help:       "Open the addon settings menu.",
		Permission: permission.LevelUser,
		Run: func(ctx context.Context, inv Invocation) error {
			title := "Addon settings"
			if notices != nil {
				title = notices.Text(inv.Sender, "base.menu.title")
			}
			return t.Send(ctx, MessageMenuOpen, MenuPayload{
				Title:   title,
				Modules: reg.Describe(),
			}, transport.To(inv.Sender))
		},
	}
}

// ReloadCommand is !addonreload: it re-reads every module from storage and
// pushes the result to all clients.
func ReloadCommand(reg *module.Registry, syncer Syncer, notices *notice.Sender) Command {
	return Command{
		Name:       "addonreload",
		Help:       "Reload module settings from storage.",
		Permission: permission.LevelAdmin,
		Run: func(ctx context.Context, inv Invocation) error {
			var errs []error
			reloaded := 0
			for _, m := range reg.Modules() {
				if _, err := m.Reload(ctx); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", m.ID(), err))
					continue
				}
				reloaded++
			}
			if syncer != nil {
				if err := syncer.SyncModules(ctx, transport.Broadcast()); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			if notices != nil && inv.Sender != transport.ServerID {
				return notices.Info(ctx, inv.Sender, "chat.reloaded", reloaded)
			}
			return nil
		},
	}
}
