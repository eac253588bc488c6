package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"bosswatch/internal/timerule"
	"bosswatch/internal/tracker"
	kit "bosswatch/internal/transport"
	"bosswatch/pkg/tgui"
)

// Registry returns the full command surface and the reminder button routes.
func Registry() ([]Command, []CallbackRoute) {
	cmds := []Command{
		{
			Name:        "kill",
			Aliases:     []string{"k"},
			Description: "record a boss kill",
			Usage:       "/kill <boss> [time] [note...]",
			Access:      AccessEveryone,
			Handle:      handleKill,
		},
		{
			Name:        "bosses",
			Aliases:     []string{"b"},
			Description: "show the boss table",
			Usage:       "/bosses",
			Access:      AccessEveryone,
			Handle:      handleBosses,
		},
		{
			Name:        "names",
			Aliases:     []string{"name"},
			Description: "list boss shortnames",
			Usage:       "/names",
			Access:      AccessEveryone,
			Handle:      handleNames,
		},
		{
			Name:        "reset",
			Aliases:     []string{"0"},
			Description: "recalibrate every cycle boss",
			Usage:       "/reset [HHMM]",
			Access:      AccessOwnerOnly,
			Handle:      handleReset,
		},
		{
			Name:        "setnotify",
			Description: "deliver reminders to this chat",
			Usage:       "/setnotify",
			Access:      AccessOwnerOnly,
			Handle:      handleSetNotify,
		},
		{
			Name:        "setpw",
			Description: "set the editor admin password",
			Usage:       "/setpw <password>",
			Access:      AccessOwnerOnly,
			Handle:      handleSetPassword,
		},
		{
			Name:        "home",
			Description: "refresh the boss table",
			Usage:       "/home",
			Access:      AccessEveryone,
			Handle:      handleBosses,
		},
		{
			Name:        "lottery",
			Description: "draw a winner",
			Usage:       "/lottery <prize> <name> [name...]",
			Access:      AccessEveryone,
			Handle:      handleLottery,
		},
	}

	cbs := []CallbackRoute{}
	for _, action := range []string{"kill", "fail", "skip", "undo"} {
		cbs = append(cbs, CallbackRoute{
			Module: "boss",
			Action: action,
			Access: CallbackAccessEveryone,
			Handle: handleBossAction(action),
		})
	}
	return cmds, cbs
}

func reply(ctx context.Context, req *Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text,
		&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// looksLikeClock gates the optional [time] argument: digits and colons only,
// so boss notes starting with a word never get eaten by the time parser.
func looksLikeClock(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != ':' {
			return false
		}
	}
	return true
}

func handleKill(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return reply(ctx, req, "usage: <code>/kill &lt;boss&gt; [time] [note...]</code>")
	}
	key := req.Args[0]
	rest := req.Args[1:]

	timeArg := ""
	if len(rest) > 0 && looksLikeClock(rest[0]) {
		timeArg = rest[0]
		rest = rest[1:]
	}
	note := strings.Join(rest, " ")

	res, err := req.Services.Recorder.RecordKill(ctx, req.Chat.ChatID, key, timeArg, note, req.FromID)
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		return reply(ctx, req, "unknown boss "+tgui.Code(key).String()+", see /names")
	case errors.Is(err, timerule.ErrInvalidTime):
		return reply(ctx, req, "bad time "+tgui.Code(timeArg).String()+", use HHMM or H:M")
	case err != nil:
		return err
	}

	if err := reply(ctx, req, formatKillReply(res)); err != nil {
		return err
	}

	// Reminders go to the group's notify chat; without one the kill is
	// recorded but nothing is scheduled.
	settings, err := req.Services.Store.ReadSettings(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if settings.NotifyChatID != 0 && res.HasNext {
		req.Services.Reminder.Schedule(req.Chat.ChatID,
			kit.ChatTarget{ChatID: settings.NotifyChatID},
			res.Record.ID, res.KilledAt, res.Record.Note)
	}
	return nil
}

func handleBosses(ctx context.Context, req *Request) error {
	recs, err := req.Services.Store.ReadBosses(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("read bosses: %w", err)
	}
	return reply(ctx, req, FormatBossTable(recs, time.Now()))
}

func handleNames(ctx context.Context, req *Request) error {
	recs, err := req.Services.Store.ReadBosses(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("read bosses: %w", err)
	}
	return reply(ctx, req, formatNameList(recs))
}

func handleReset(ctx context.Context, req *Request) error {
	var at *time.Time
	if len(req.Args) > 0 {
		c, err := timerule.ParseClock(req.Args[0])
		if err != nil {
			return reply(ctx, req, "bad time "+tgui.Code(req.Args[0]).String()+", use HHMM or H:M")
		}
		t := timerule.Compose(time.Now(), c)
		at = &t
	}

	n, err := req.Services.Recorder.ResetAll(ctx, req.Chat.ChatID, at)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if at != nil {
		return reply(ctx, req, fmt.Sprintf("recalibrated %d bosses to %s", n, at.Format("15:04:05")))
	}
	return reply(ctx, req, fmt.Sprintf("cleared kill times on %d bosses", n))
}

func handleSetNotify(ctx context.Context, req *Request) error {
	groupID := req.Chat.ChatID
	settings, err := req.Services.Store.ReadSettings(ctx, groupID)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	settings.NotifyChatID = req.Chat.ChatID
	if err := req.Services.Store.WriteSettings(ctx, groupID, settings); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return reply(ctx, req, "reminders will be delivered to this chat")
}

func handleSetPassword(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "usage: <code>/setpw &lt;password&gt;</code>")
	}
	groupID := req.Chat.ChatID
	settings, err := req.Services.Store.ReadSettings(ctx, groupID)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	settings.AdminPassword = req.Args[0]
	if err := req.Services.Store.WriteSettings(ctx, groupID, settings); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	msg := "editor password updated"
	if req.Config != nil && req.Config.Editor.BaseURL != "" {
		msg += "\n" + tgui.Link("open editor", fmt.Sprintf("%s/groups/%d", strings.TrimRight(req.Config.Editor.BaseURL, "/"), groupID)).String()
	}
	return reply(ctx, req, msg)
}

func handleLottery(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return reply(ctx, req, "usage: <code>/lottery &lt;prize&gt; &lt;name&gt; [name...]</code>")
	}
	prize := req.Args[0]
	participants := req.Args[1:]
	winner := participants[rand.Intn(len(participants))]
	return reply(ctx, req, tgui.JoinH(" ",
		"\U0001f3b0", tgui.B(winner), tgui.Esc("wins"), tgui.I(prize),
		tgui.Esc(fmt.Sprintf("(%d entries)", len(participants)))).String())
}

func handleBossAction(action string) CallbackHandlerFunc {
	return func(ctx context.Context, req *Request, payload string) error {
		ack, err := req.Services.Reminder.HandleAction(ctx, payload, action, req.FromID)
		if err != nil {
			return err
		}
		if req.Update.Callback != nil {
			// The ack text rides on the callback answer; the router's
			// follow-up blank answer is then a harmless no-op.
			_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, ack)
		}
		return nil
	}
}
