package keyboard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatlogic/pkg/chat"
)

func TestNew_ButtonsSelectInline(t *testing.T) {
	k := New(None, [][]Button{Row("a")}, "")
	require.Equal(t, Inline, k.Type())
	require.True(t, k.Interactive())
	require.True(t, k.Changed())

	k.Unchange()
	require.False(t, k.Changed())
	require.Equal(t, Inline, k.CommittedType())
}

func TestKnown_InlineUsesPrefixedData(t *testing.T) {
	k := New(Inline, [][]Button{
		{{Text: "Send", Data: "YES"}, {Text: "Cancel", Data: "NO"}},
		{Btn("Later")},
	}, "")
	require.True(t, strings.HasPrefix(k.CallbackData(Btn("x")), k.Prefix()))

	r := k.Known(chat.CallbackEvent(&chat.Callback{Data: k.Prefix() + "NO"}))
	require.Equal(t, chat.Result{Known: true, Data: "NO", Index: 1}, r)

	r = k.Known(chat.CallbackEvent(&chat.Callback{Data: k.Prefix() + "Later"}))
	require.Equal(t, chat.Result{Known: true, Data: "Later", Index: 2}, r)

	// another keyboard's press is unknown
	other := New(Inline, [][]Button{Row("Send")}, "")
	require.Equal(t, chat.NoResult, k.Known(chat.CallbackEvent(&chat.Callback{Data: other.Prefix() + "YES"})))

	// messages never match inline keyboards
	require.Equal(t, chat.NoResult, k.Known(chat.MessageEvent(&chat.Message{Text: "Send"})))
}

func TestKnown_ReplyMatchesText(t *testing.T) {
	k := New(Reply, [][]Button{Row("YES", "NO")}, "choose")
	r := k.Known(chat.MessageEvent(&chat.Message{Text: "NO"}))
	require.Equal(t, chat.Result{Known: true, Data: "NO", Index: 1}, r)
	require.Equal(t, chat.NoResult, k.Known(chat.MessageEvent(&chat.Message{Text: "maybe"})))
	require.Equal(t, chat.NoResult, k.Known(chat.CallbackEvent(&chat.Callback{Data: "NO"})))
}

func TestReplaceable(t *testing.T) {
	k := New(Inline, [][]Button{Row("a")}, "")
	k.Unchange()
	k.SetButtons([][]Button{Row("b")})
	require.True(t, k.Replaceable())

	k.SetReply(nil, "")
	require.False(t, k.Replaceable(), "inline -> reply must recreate")
	k.Unchange()

	k.SetPlaceholder("type")
	require.True(t, k.Replaceable(), "reply -> reply edits in place")

	k.SetRemove()
	require.False(t, k.Replaceable(), "reply -> remove must recreate")

	k.Unchange()
	k.SetNone()
	require.True(t, k.Replaceable())
}

func TestSetButtons_EmptySelectsNone(t *testing.T) {
	k := New(Inline, [][]Button{Row("a")}, "")
	k.SetButtons(nil)
	require.Equal(t, None, k.Type())
	require.False(t, k.Interactive())
}

func TestValidate(t *testing.T) {
	require.NoError(t, New(None, nil, "").Validate())
	require.ErrorIs(t, New(Reply, nil, "").Validate(), ErrNoButtons)
	require.ErrorIs(t, New(Inline, [][]Button{Row(" ")}, "").Validate(), ErrEmptyButton)
	require.NoError(t, New(Inline, [][]Button{Row("x")}, "").Validate())
}

func TestLayout(t *testing.T) {
	k := New(Inline, [][]Button{{{Text: "Go", Data: "go"}}}, "")
	l := k.Layout()
	require.Equal(t, Inline, l.Type)
	require.Len(t, l.Rows, 1)
	require.Equal(t, k.Prefix()+"go", l.Rows[0][0].CallbackData)

	r := New(Reply, [][]Button{Row("A")}, "ph").Layout()
	require.Equal(t, "", r.Rows[0][0].CallbackData)
	require.Equal(t, "ph", r.Placeholder)

	require.Nil(t, New(Remove, nil, "").Layout().Rows)
}

func TestClone_IsIndependent(t *testing.T) {
	k := New(Reply, [][]Button{Row("A", "B")}, "")
	c := k.Clone()
	require.Equal(t, k.Prefix(), c.Prefix())

	k.Buttons()[0][0].Text = "Z"
	k.SetButtons([][]Button{Row("Q")})

	require.Equal(t, "A", c.Buttons()[0][0].Text)
	require.True(t, c.Known(chat.MessageEvent(&chat.Message{Text: "B"})).Known)
	require.False(t, c.Known(chat.MessageEvent(&chat.Message{Text: "Q"})).Known)
}
