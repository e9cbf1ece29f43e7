// Package demo is a sample conversation exercising menus, popups, waits and
// in-place message updates. Both CLI transports run it.
package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/keyboard"
	"github.com/go-go-golems/chatlogic/pkg/message"
	"github.com/go-go-golems/chatlogic/pkg/session"
)

// Logic is the demo entry point.
type Logic struct {
	session.BaseLogic
	// Tick paces the animation and the button-driven calculator.
	Tick time.Duration
}

func NewLogic(*session.Session) session.Logic {
	return &Logic{Tick: 300 * time.Millisecond}
}

func btn(text, data string) keyboard.Button { return keyboard.Button{Text: text, Data: data} }

func removeUnused() session.Option { return session.Msg(message.WithRemoveUnused(true)) }

func (l *Logic) Main(ctx context.Context, s *session.Session, params string) error {
	last := s.Last()
	name := "stranger"
	if u := s.User(nil); u != nil {
		if last.From.Name != "" {
			u.SetName(last.From.Name)
		}
		if u.Name() != "" {
			name = u.Name()
		}
	}

	pstr := ""
	if params != "" {
		pstr = fmt.Sprintf("\nYou started me with parameters %q, but I dont support any\n\n", params)
	}
	title, err := s.Reply(ctx, fmt.Sprintf("Hi, %s.\n%sYou are at examples section", name, pstr))
	if err != nil {
		return err
	}

	for done := false; !done; {
		rc, err := s.Menu(ctx, "Choose test group to go", [][]keyboard.Button{
			{btn("Menu tests...", "menu")},
			{btn("Some asking", "ask"), btn("Funny one :)", "wait"), btn("Calc", "calc")},
			{btn("Close", "0"), btn("Cancel", "0"), btn("Abandon!", "0")},
		}, removeUnused())
		if err != nil {
			return err
		}
		switch rc.Data {
		case "menu":
			err = l.menus(ctx, s, name)
		case "ask":
			err = l.ask(ctx, s, name)
		case "wait":
			err = l.wait(ctx, s, name)
		case "calc":
			err = l.calc(ctx, s)
		default:
			done = true
		}
		if err != nil {
			return err
		}
	}

	if _, err := title.Delete(ctx); err != nil {
		return err
	}
	if _, err := s.Say(ctx, "Calm down mate!\nIts all done already.\nSee you", session.WaitDelay(time.Second)); err != nil {
		return err
	}
	if _, err := s.Say(ctx, `...btw, if you wanna reply you can use "/start" command.`, session.WaitDelay(2*time.Second)); err != nil {
		return err
	}
	_, err = s.Say(ctx, "Just saying...")
	return err
}

func (l *Logic) menus(ctx context.Context, s *session.Session, name string) error {
	title, err := s.Reply(ctx, fmt.Sprintf("Hi, %s.\nHere you can see some usage samples for menus", name))
	if err != nil {
		return err
	}
	for {
		rc, err := s.Menu(ctx, "Please select test", [][]keyboard.Button{
			{btn("Simple popup", "simple1"), btn("Popup with filter", "simple2")},
			{btn("Runtime animation test", "anim")},
			{btn("<< Back", "0")},
		}, removeUnused())
		if err != nil {
			return err
		}
		switch rc.Data {
		case "simple1":
			err = l.simplePopup(ctx, s, name)
		case "simple2":
			err = l.filteredPopup(ctx, s, name)
		case "anim":
			err = l.animation(ctx, s, name)
		default:
			title.SetText("Whats all for MENUs. See you..")
			return title.Show(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (l *Logic) simplePopup(ctx context.Context, s *session.Session, name string) error {
	title, err := s.Say(ctx, fmt.Sprintf("Here is MODAL menu sample, %s.\n"+
		"The menu stays until you select something from it.", name))
	if err != nil {
		return err
	}
	menu := s.Build("some menu title", message.WithInline([][]keyboard.Button{
		keyboard.Row("b"),
		keyboard.Row("a", "b", "c"),
		keyboard.Row("a", "b"),
	}))
	rc, err := menu.Popup(ctx)
	if err != nil {
		return err
	}
	title.SetText("Was selected: " + rc.Data)
	return title.Show(ctx)
}

func (l *Logic) filteredPopup(ctx context.Context, s *session.Session, name string) error {
	title, err := s.Reply(ctx, fmt.Sprintf("Here is another one, %s.\nBut this time you can ONLY choose menu buttons!", name))
	if err != nil {
		return err
	}
	rc, err := s.Menu(ctx, "Another menu title\nPossible with several lines", [][]keyboard.Button{
		keyboard.Row("One in a row"),
		keyboard.Row("One", "Two", "Three"),
		{btn("Bottom One", "bottom1"), btn("and Two", "bottom2")},
	}, removeUnused())
	if err != nil {
		return err
	}
	title.SetText("Selected button: " + rc.Data)
	return title.Show(ctx)
}

func (l *Logic) animation(ctx context.Context, s *session.Session, name string) error {
	title, err := s.Reply(ctx, fmt.Sprintf("Little \"animation\" example, %s.\nEmulates some run actions!", name))
	if err != nil {
		return err
	}
	// shown first so it stays above the status messages
	menu := s.Build("Working devices:", message.WithRemoveUnused(true))
	if err := menu.Show(ctx); err != nil {
		return err
	}
	state, err := s.Say(ctx, "<devices>")
	if err != nil {
		return err
	}
	items, err := s.Say(ctx, "<devices snapshot>")
	if err != nil {
		return err
	}

	n, c1, c2, step, c3 := 0, 0, 0, 1, 14232343
	running, finished := true, false
	ticker := time.NewTicker(l.Tick)
	defer ticker.Stop()
	for !finished {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
		n++
		if running {
			c1 += rand.IntN(101)
			c2 += step
			if c2 > 5 {
				step = -1
			}
			if c2 < -5 {
				step = 1
			}
			c3 -= 100 + rand.IntN(9901)
		}
		toggle := "Stop"
		if !running {
			toggle = "Resume"
		}
		menu.Keyboard().SetInline([][]keyboard.Button{
			{btn(fmt.Sprintf("Device1: %d", c1), "1")},
			{btn(fmt.Sprintf("Device2: %d", abs(c2)), "2")},
			{btn(fmt.Sprintf("Device3: %d", c3), "3")},
			{btn(toggle, "RUN"), btn("Reset", "RESET"), btn("<< Close", "BACK")},
		})
		status := "Running"
		if !running {
			status = "Stopped"
		}
		state.SetText(fmt.Sprintf("Devices are: %s [%d]...", status, n))
		if err := state.Show(ctx); err != nil {
			return err
		}
		if err := menu.Show(ctx); err != nil {
			return err
		}

		rc := menu.Result()
		if !rc.Known {
			continue
		}
		switch rc.Data {
		case "1", "2", "3":
			items.SetText(fmt.Sprintf("Stats at %s was:\nDevice1: %d\nDevice2: %d\nDevice3: %d",
				time.Now().Format(time.TimeOnly), c1, c2, c3))
			if err := items.Show(ctx); err != nil {
				return err
			}
		case "RUN":
			running = !running
		case "RESET":
			c1, c2 = 0, 0
			c3 = rand.IntN(10001) * 10000
		case "BACK":
			finished = true
		}
	}

	for _, m := range []*message.Message{menu, items, state} {
		if _, err := m.Delete(ctx); err != nil {
			return err
		}
	}
	title.SetText(fmt.Sprintf("Animation demo ended\nIn total %d cycle iterations completed", n))
	return title.Show(ctx)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var teases = []string{"Really?", "Cant you press a button?", "Just do it!", "Im bored..."}

func (l *Logic) ask(ctx context.Context, s *session.Session, name string) error {
	var tries atomic.Int32
	asker := s.Build(fmt.Sprintf("Select a button, %s.\nThis time you cant enter chat messages... will you try to?", name),
		message.WithReply([][]keyboard.Button{keyboard.Row("first", "second", "third")}, ""),
		message.WithRemoveUnused(true),
		message.OnMessage(func(_ context.Context, _ *chat.Message, r chat.Result) bool {
			if !r.Known {
				tries.Add(1)
			}
			return true
		}),
	)
	rc, err := asker.Popup(ctx)
	if err != nil {
		return err
	}
	text := "reply: " + rc.Data
	if n := tries.Load(); n > 0 {
		text += fmt.Sprintf("\n%s You typed %d times instead.", teases[rand.IntN(len(teases))], n)
	}
	_, err = s.Say(ctx, text)
	return err
}

var idle = []string{"Im bored", "Boring", "Still waiting", "Are u even here??"}

func (l *Logic) wait(ctx context.Context, s *session.Session, name string) error {
	if _, err := s.Reply(ctx, "Hi "+name+"!", session.WaitDelay(2*time.Second)); err != nil {
		return err
	}
	if _, err := s.Say(ctx, "How are u "+name+"?", session.WaitDelay(time.Second), session.Replace()); err != nil {
		return err
	}
	if _, err := s.Say(ctx, "U know "+name+", Im fine too, thanks!", session.WaitDelay(3*time.Second), session.Replace()); err != nil {
		return err
	}
	if _, err := s.Say(ctx, "Ure so boring... Lets work when!\nTry to post some text here.", session.Replace()); err != nil {
		return err
	}

	boring, err := s.Say(ctx, "Up to 5 times")
	if err != nil {
		return err
	}
	for heard := 0; heard < 5; {
		got, err := s.WaitMessage(ctx, 5*time.Second)
		if err != nil {
			return err
		}
		if got {
			heard++
			boring.SetText(fmt.Sprintf("I heard %d times:\n%s", heard, s.Last().Text))
			if _, err := s.Delete(ctx, chat.NoMessageID); err != nil {
				return err
			}
		} else {
			boring.SetText(idle[rand.IntN(len(idle))] + "...")
		}
		if err := boring.Show(ctx); err != nil {
			return err
		}
	}

	boring.SetText("Well, you pass this test!")
	if err := boring.ShowFor(ctx, 2*time.Second); err != nil {
		return err
	}
	boring.SetText("Whats all for WAITing. See you..")
	return boring.Show(ctx)
}

func (l *Logic) calc(ctx context.Context, s *session.Session) error {
	choice, err := s.AskYesNo(ctx, "Which version do you want to test?", []string{"with Buttons", "with Typing"}, removeUnused())
	if err != nil {
		return err
	}
	byButtons := choice == 0

	rows := make([][]keyboard.Button, 0, len(calcKeys))
	for _, r := range calcKeys {
		rows = append(rows, keyboard.Row(r...))
	}
	var keys *message.Message
	if byButtons {
		keys, err = s.Say(ctx, "Calculator keys (BUTTONS version)", session.Msg(message.WithInline(rows)))
	} else {
		keys, err = s.Say(ctx, "Calculator keys (TYPING version)\nTry to enter something to calculate",
			session.Msg(message.WithReply(rows, "Enter numbers and signs to calculate")))
	}
	if err != nil {
		return err
	}
	total, err := s.Say(ctx, "(enter formula)")
	if err != nil {
		return err
	}

	var c Calculator
	next := func() (string, bool, error) {
		if byButtons {
			ticker := time.NewTicker(l.Tick)
			defer ticker.Stop()
			for {
				if rc := keys.Result(); rc.Known {
					return rc.Data, true, nil
				}
				select {
				case <-ctx.Done():
					return "", false, context.Cause(ctx)
				case <-ticker.C:
				}
			}
		}
		got, err := s.WaitMessage(ctx, 0)
		if err != nil || !got {
			return "", false, err
		}
		key := s.Last().Text
		if _, err := s.Delete(ctx, chat.NoMessageID); err != nil {
			return "", false, err
		}
		return key, true, nil
	}

	for {
		key, ok, err := next()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		display, done := c.Press(key)
		if done {
			break
		}
		total.SetText(display)
		if err := total.Show(ctx); err != nil {
			return err
		}
	}

	if _, err := total.Delete(ctx); err != nil {
		return err
	}
	if byButtons {
		_, err = keys.Delete(ctx)
		if err != nil {
			return err
		}
		_, err = s.Say(ctx, "Whats all in calc. See you..")
		return err
	}
	keys.SetText("Whats all in calc. See you..")
	keys.Keyboard().SetRemove()
	return keys.Show(ctx)
}
