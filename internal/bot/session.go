package bot

import (
	"context"
	"strconv"

	"github.com/dmitrijs2005/formbot/internal/events"
)

// StartSession binds chatID to username. The chat that held the username
// before loses its timer, upload staging and dialogue context; the
// machine notifies it.
func (d *Dispatcher) StartSession(ctx context.Context, chatID int64, username string) (int64, bool, error) {
	displaced, ok, err := d.c.Registry.Login(ctx, chatID, username)
	if err != nil {
		return 0, false, err
	}
	if ok {
		d.timers.Stop(displaced)
		d.dropChat(ctx, displaced)
		d.publish(ctx, events.TypeSessionDisplaced, displaced, username, map[string]string{
			"by_chat_id": strconv.FormatInt(chatID, 10),
		})
	}
	d.timers.Start(chatID, username)
	d.publish(ctx, events.TypeSessionStarted, chatID, username, nil)
	return displaced, ok, nil
}

// Restore re-arms the inactivity timers of persisted sessions, each with
// the time it has left.
func (d *Dispatcher) Restore(ctx context.Context) (int, error) {
	list, err := d.c.Registry.List(ctx)
	if err != nil {
		return 0, err
	}
	now := d.c.Now()
	for _, s := range list {
		d.timers.StartWithin(s.ChatID, s.Username, d.timers.Timeout()-now.Sub(s.LoginTime))
	}
	return len(list), nil
}

func (d *Dispatcher) logout(ctx context.Context, chatID int64, username string) {
	if username == "" {
		d.say(ctx, chatID, MsgNotLoggedIn)
		return
	}
	d.timers.Stop(chatID)
	if err := d.c.Registry.Logout(ctx, chatID); err != nil {
		d.log.Error(ctx, "logout", "chat_id", chatID, "error", err)
		d.say(ctx, chatID, MsgInternalError)
		return
	}
	d.dropChat(ctx, chatID)
	d.say(ctx, chatID, MsgLoggedOut)
	d.publish(ctx, events.TypeSessionEnded, chatID, username, nil)
}

// onInactive runs on the timer goroutine; the expiry is queued so it
// cannot interleave with the chat's own events.
func (d *Dispatcher) onInactive(chatID int64, username string) {
	d.Dispatch(Event{ChatID: chatID, expiredUser: username})
}

func (d *Dispatcher) expire(ctx context.Context, chatID int64, username string) {
	// activity may have re-armed the timer after it fired
	if d.timers.Active(chatID) {
		return
	}
	owned, err := d.c.Registry.LogoutIfOwner(ctx, chatID, username)
	if err != nil {
		d.log.Error(ctx, "expire session", "chat_id", chatID, "error", err)
		return
	}
	if !owned {
		return
	}
	d.dropChat(ctx, chatID)
	d.say(ctx, chatID, MsgInactiveLogout)
	d.log.Info(ctx, "session expired", "chat_id", chatID, "username", username)
	d.publish(ctx, events.TypeSessionExpired, chatID, username, nil)
}

// dropChat forgets everything transient about chatID.
func (d *Dispatcher) dropChat(ctx context.Context, chatID int64) {
	if err := d.c.Area.ClearUploadStaging(chatID); err != nil {
		d.log.Warn(ctx, "clear upload staging", "chat_id", chatID, "error", err)
	}
	d.machine.Drop(chatID)
}
