package liveserver

// Message is one dashboard frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Frame types pushed to dashboard clients.
const (
	TypeQuote      = "quote"
	TypeOrder      = "order"
	TypeFill       = "fill"
	TypeEquity     = "equity"
	TypeAccount    = "account"
	TypePositions  = "positions"
	TypeRiskStatus = "risk_status"
)

func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Data: data}
}
