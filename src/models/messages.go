package models

// -----------------------------------------------------------------------------
// Inbound control messages
// -----------------------------------------------------------------------------

const (
	MethodSubscribe   = "SUBSCRIBE"
	MethodUnsubscribe = "UNSUBSCRIBE"
)

// MControlMessage is the client -> server frame.
type MControlMessage struct {
	Method string          `json:"method"`
	Params *MControlParams `json:"params,omitempty"`
}

type MControlParams struct {
	Symbol   string      `json:"symbol"`
	Type     string      `json:"type"`
	Interval string      `json:"interval,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Since    int64       `json:"since,omitempty"`
	Param    interface{} `json:"param,omitempty"`
}

// -----------------------------------------------------------------------------
// Outbound acknowledgements
// -----------------------------------------------------------------------------

const (
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
	StatusError        = "error"
)

// MAck answers a control message.
type MAck struct {
	Status   string `json:"status"`
	Symbol   string `json:"symbol,omitempty"`
	Type     string `json:"type,omitempty"`
	Interval string `json:"interval,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Message  string `json:"message,omitempty"`
}

// MSubscriptionInfo describes an upstream subscription for the status API.
type MSubscriptionInfo struct {
	Key        string      `json:"key"`
	Identifier string      `json:"identifier"`
	Kind       DataKind    `json:"kind"`
	Active     bool        `json:"active"`
	Interval   string      `json:"interval,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Param      interface{} `json:"param,omitempty"`
}
