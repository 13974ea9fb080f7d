package signal

import "github.com/dkeye/Avatar/internal/domain"

func (f *EventFeed) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	f.sendJSON(conn, resp)
}

func (f *EventFeed) handleWhoAmI(
	owner domain.ClientToken,
	conn *WsSignalConn,
) {
	resp := struct {
		Type    string          `json:"type"`
		Client  string          `json:"client"`
		Streams []domain.Stream `json:"streams"`
	}{
		Type:    "whoami",
		Client:  string(owner),
		Streams: []domain.Stream{},
	}
	if f.Streams != nil {
		resp.Streams = f.Streams.OwnedBy(owner)
	}
	f.sendJSON(conn, resp)
}
