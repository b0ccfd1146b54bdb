package bus

// Event is an inbound provider event: a user or operator message, a slash
// command, or a menu button press translated into a command by the adapter.
type Event struct {
	EventID    string   `json:"event_id"`
	ChatID     int64    `json:"chat_id"`
	SenderID   int64    `json:"sender_id"`
	SenderName string   `json:"sender_name,omitempty"`
	MessageID  int      `json:"message_id"`
	ReplyToID  int      `json:"reply_to_id,omitempty"` // operator reply correlation
	Text       string   `json:"text,omitempty"`
	Command    string   `json:"command,omitempty"` // "" for a plain relayable message
	Args       []string `json:"args,omitempty"`
}

// IsCommand reports whether the event is a named action rather than a
// message to relay.
func (e Event) IsCommand() bool {
	return e.Command != ""
}

// Menu selects the inline keyboard the provider adapter attaches to a
// notice. The router decides which menu fits; rendering stays in the adapter.
type Menu string

const (
	MenuNone        Menu = ""
	MenuUserIdle    Menu = "user_idle"    // apply button
	MenuUserPending Menu = "user_pending" // cancel button
	MenuUserActive  Menu = "user_active"  // end button
	MenuRequest     Menu = "request"      // accept/reject for Subject
	MenuSession     Menu = "session"      // end/ban for Subject
	MenuPanel       Menu = "panel"        // operator panel
)

// Notice is an outbound best-effort status message. Delivery failures are
// logged, never propagated back to the state transition that produced it.
type Notice struct {
	ChatID  int64  `json:"chat_id"`
	Text    string `json:"text"`
	Menu    Menu   `json:"menu,omitempty"`
	Subject int64  `json:"subject,omitempty"` // user id the menu acts on
}
