// Package helper implements the distributed transport half of evaluation:
// a websocket client/server pair that ships a batch of candidate-next
// evaluation work to a remote process and brings back its scores. It knows
// nothing about nexts, futures, or
// objectives — those types live in package eval, which marshals to and from
// this package's plain byte-oriented Request/Response before dispatching,
// keeping this package a pure transport (no import of eval, no cycle).
//
// Framing is encoding/gob over a single binary websocket message per
// request/response, the natural stdlib pairing for a websocket frame
// carrying ad hoc Go values — the same role github.com/sw965/omw/encoding/gobx
// plays for the teacher's on-disk model persistence, applied here to a wire
// message instead of a file.
package helper

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Request is one batch of work dispatched to a helper: a savestate to
// resume from, a set of candidate input sequences to score, and the shared
// futures population's input sequences. Sequences are raw button bytes, not
// frame.Sequence, so this package stays independent of the frame/nexts
// packages.
type Request struct {
	CurrentState    []byte
	CandidateInputs [][]byte
	FutureInputs    [][]byte
}

// Response carries one result per candidate, aligned by index with
// Request.CandidateInputs, plus a possibly-empty error string (gob cannot
// carry the error interface directly).
type Response struct {
	Immediate    []float64
	FutureTotals [][]float64
	NextScores   []float64
	Err          string
}

// ComputeFunc is the caller-supplied evaluation logic a Server runs against
// each decoded Request. Package eval supplies the concrete implementation
// that decodes raw bytes into frame.Sequence/nexts.Next and runs local
// evaluation.
type ComputeFunc func(Request) Response

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades incoming HTTP connections to websockets and answers every
// Request it reads with compute's result, until the client disconnects.
type Server struct {
	Compute ComputeFunc
}

// Handler returns an http.HandlerFunc suitable for registering on a mux,
// mirroring the teacher's stdlib-http-handler idiom rather than a web
// framework (none of the retrieval pack's websocket users share a common
// router, so plain net/http is the least-surprising choice here).
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req Request
			if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&req); err != nil {
				return
			}

			resp := s.Compute(req)

			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(&resp); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
				return
			}
		}
	}
}

// Client dials one helper server and exchanges Request/Response pairs.
type Client struct {
	addr string
	conn *websocket.Conn
}

// Dial connects to a helper server at addr (a ws:// or wss:// URL).
func Dial(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("helper: Dial %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends req and waits for a Response, honoring ctx's deadline for both
// directions — the bounded timeout with fallback to local execution on
// expiry is handled by the caller in package eval, not here.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
		c.conn.SetReadDeadline(dl)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
		c.conn.SetReadDeadline(time.Time{})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&req); err != nil {
		return Response{}, fmt.Errorf("helper: Call: encode request: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		return Response{}, fmt.Errorf("helper: Call: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Response{}, fmt.Errorf("helper: Call: %w", err)
	}
	var resp Response
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("helper: Call: decode response: %w", err)
	}
	if resp.Err != "" {
		return Response{}, fmt.Errorf("helper: remote: %s", resp.Err)
	}
	return resp, nil
}
