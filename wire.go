package botlink

import "encoding/json"

// commandFrame is an outbound command-channel request.
type commandFrame struct {
	Action string   `json:"action"`
	Params any      `json:"params,omitempty"`
	Echo   echoData `json:"echo"`
}

// echoData carries the correlation id that ties a response to its request.
// The gateway reflects it back verbatim.
type echoData struct {
	CorrelationID string `json:"correlationId"`
}

// responseEnvelope is the slice of an inbound command-channel frame the
// correlator needs. Business fields stay in the raw frame.
type responseEnvelope struct {
	Echo *echoData `json:"echo"`
}

// responseBody is the business envelope of a command response, used where
// the library itself issues commands (identity lookup).
type responseBody struct {
	Status  string          `json:"status"`
	RetCode int64           `json:"retcode"`
	Data    json.RawMessage `json:"data"`
}

// loginInfo is the data body of a get_login_info response.
type loginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// sendMessageParams addresses an outbound send_msg command at the
// conversation an inbound message came from.
type sendMessageParams struct {
	MessageType string `json:"message_type"`
	UserID      int64  `json:"user_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
	DiscussID   int64  `json:"discuss_id,omitempty"`
	Message     string `json:"message"`
}

// Payload is the decoded shape of an inbound notification frame. Only the
// classification discriminators and addressing fields are typed; the full
// frame stays available on Event.Raw.
type Payload struct {
	PostType      string `json:"post_type"`
	MessageType   string `json:"message_type"`
	SubType       string `json:"sub_type"`
	NoticeType    string `json:"notice_type"`
	RequestType   string `json:"request_type"`
	MetaEventType string `json:"meta_event_type"`

	MessageID int64 `json:"message_id"`
	UserID    int64 `json:"user_id"`
	GroupID   int64 `json:"group_id"`
	DiscussID int64 `json:"discuss_id"`
	SelfID    int64 `json:"self_id"`
	Time      int64 `json:"time"`

	Message    json.RawMessage `json:"message"`
	RawMessage string          `json:"raw_message"`
}

// MessageText returns the message body as text. Gateways may send the
// message field as a plain string or as a structured segment list; only
// the string form carries inline tags.
func (p *Payload) MessageText() string {
	if len(p.Message) == 0 {
		return p.RawMessage
	}
	var s string
	if err := json.Unmarshal(p.Message, &s); err == nil {
		return s
	}
	return p.RawMessage
}
