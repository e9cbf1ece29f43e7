package settings

import (
	"math"
	"time"
)

// Chat option keys, relative to the chat branch.
const (
	KeyRestartOnException = "restartLogicOnException"
	KeyErrorRestartCount  = "logicErrorRestartCount"
	KeyRestartOnExit      = "restartLogicOnExit"
	KeyRestartCount       = "logicRestartCount"
	KeyLeaveAfterExit     = "leaveChannelAfterExit"
	KeyRestartDelay       = "restartDelay"
	KeyMaskExceptions     = "maskExceptions"
	KeyBotDownMessage     = "botDownMessage"
)

const DefaultBotDownMessage = "The Bot is down. To force start it use /start command"

// ChatOptions is the per-chat option schema. It is read once when a chat
// session is built.
type ChatOptions struct {
	RestartOnException bool
	// ErrorRestartCount caps restarts after failures; -1 is unlimited.
	ErrorRestartCount int
	RestartOnExit     bool
	// RestartCount caps restarts after normal exits; -1 is unlimited.
	RestartCount   int
	LeaveAfterExit bool
	// RestartDelay is waited before a restart; negative disables it.
	RestartDelay   time.Duration
	MaskExceptions bool
	BotDownMessage string
}

func DefaultChatOptions() ChatOptions {
	return ChatOptions{
		RestartOnException: false,
		ErrorRestartCount:  5,
		RestartOnExit:      true,
		RestartCount:       -1,
		LeaveAfterExit:     true,
		RestartDelay:       5 * time.Second,
		MaskExceptions:     false,
		BotDownMessage:     DefaultBotDownMessage,
	}
}

// ChatPath is the branch holding the options of one chat.
func ChatPath(chatID string) string { return "chats." + chatID }

// LoadChatOptions reads the options from the chat branch t, writing defaults
// for missing keys.
func LoadChatOptions(t *Tree) ChatOptions {
	d := DefaultChatOptions()
	return ChatOptions{
		RestartOnException: t.Bool(KeyRestartOnException, d.RestartOnException),
		ErrorRestartCount:  t.Int(KeyErrorRestartCount, d.ErrorRestartCount),
		RestartOnExit:      t.Bool(KeyRestartOnExit, d.RestartOnExit),
		RestartCount:       t.Int(KeyRestartCount, d.RestartCount),
		LeaveAfterExit:     t.Bool(KeyLeaveAfterExit, d.LeaveAfterExit),
		RestartDelay:       seconds(t.Float(KeyRestartDelay, d.RestartDelay.Seconds())),
		MaskExceptions:     t.Bool(KeyMaskExceptions, d.MaskExceptions),
		BotDownMessage:     t.String(KeyBotDownMessage, d.BotDownMessage),
	}
}

func seconds(s float64) time.Duration {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return -1
	}
	return time.Duration(s * float64(time.Second))
}
