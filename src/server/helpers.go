package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"market-fanout/src/models"
)

// -----------------------------------------------------------------------------

// decodeControl parses a client frame. Method names are matched case-insensitively.
func decodeControl(raw []byte) (models.MControlMessage, error) {
	var msg models.MControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("invalid control message: %w", err)
	}
	msg.Method = strings.ToUpper(strings.TrimSpace(msg.Method))
	if msg.Params != nil {
		msg.Params.Symbol = strings.TrimSpace(msg.Params.Symbol)
	}
	return msg, nil
}

// -----------------------------------------------------------------------------

func subscribedAck(p *models.MControlParams) models.MAck {
	return models.MAck{
		Status:   models.StatusSubscribed,
		Symbol:   p.Symbol,
		Type:     p.Type,
		Interval: p.Interval,
		Limit:    p.Limit,
	}
}

func unsubscribedAck(p *models.MControlParams) models.MAck {
	return models.MAck{Status: models.StatusUnsubscribed, Symbol: p.Symbol, Type: p.Type}
}

func errorAck(message string) models.MAck {
	return models.MAck{Status: models.StatusError, Message: message}
}

// -----------------------------------------------------------------------------

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
