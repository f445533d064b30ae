// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxyconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kroxylicious/kroxylicious-go/internal/filter"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
	"github.com/kroxylicious/kroxylicious-go/internal/metrics"
)

// Watermarks bounds how many requests a connection admits ahead of the
// last one it has written a response for, before it stops reading
// further frames off the wire.
type Watermarks struct {
	High int
	Low  int
}

// DefaultWatermarks is a conservative in-flight pipelining depth for
// a single client connection.
func DefaultWatermarks() Watermarks {
	return Watermarks{High: 64, Low: 16}
}

// Backend abstracts the upstream connection a frontend relays to, so
// tests can substitute a fake without a real TCP dial.
type Backend interface {
	Send(header *kafkaproto.RequestHeader, payload []byte) (<-chan frameResult, error)
}

// FrontendConn owns one downstream TCP connection end to end: reading
// frames, driving them through the filter chain, forwarding to the
// backend, and writing responses back in arrival order. Exactly one
// goroutine calls Serve for a given FrontendConn; that goroutine is
// this connection's sole worker for state-machine purposes.
//
// Auth and IdleTimeout may be set before Serve is called: a non-nil
// Auth gates the connection behind a SASL exchange (AUTH_GATING state),
// and a positive IdleTimeout closes connections that go quiet in
// RELAYING.
type FrontendConn struct {
	Auth        Authenticator
	IdleTimeout time.Duration

	// LogFrames emits one debug line per request frame header, the
	// per-virtual-cluster logFrames flag.
	LogFrames bool

	conn    net.Conn
	machine *Machine
	chain   *filter.Chain
	backend Backend
	orderer *filter.Orderer
	logger  *slog.Logger
	marks   Watermarks

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight int
	paused   bool
}

// NewFrontendConn wires a downstream connection to its filter chain
// and backend.
func NewFrontendConn(conn net.Conn, chain *filter.Chain, backend Backend, marks Watermarks, logger *slog.Logger) *FrontendConn {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FrontendConn{
		conn:    conn,
		machine: NewMachine(),
		chain:   chain,
		backend: backend,
		orderer: filter.NewOrderer(),
		logger:  logger,
		marks:   marks,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Serve reads frames until the connection closes or ctx is done,
// relaying each through the filter chain and backend, and writing
// responses to the client strictly in the order their requests
// arrived.
func (f *FrontendConn) Serve(ctx context.Context) error {
	if err := f.machine.Transition(StateAwaitingFirstFrame); err != nil {
		return err
	}
	defer f.close()

	if f.Auth != nil {
		if err := f.runSaslGate(ctx); err != nil {
			f.logger.Warn("sasl gate closed connection", "error", err)
			return err
		}
	}

	go f.writeLoop(ctx)

	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f.waitForCapacity()

		if f.IdleTimeout > 0 {
			_ = f.conn.SetReadDeadline(time.Now().Add(f.IdleTimeout))
		}
		frame, err := kafkaproto.ReadFrame(f.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				f.logger.Info("closing idle connection")
				return nil
			}
			return err
		}
		header, _, err := kafkaproto.ParseRequestHeader(frame.Payload)
		if err != nil {
			f.logger.Warn("parse request header failed", "error", err)
			return err
		}
		if f.LogFrames {
			f.logger.Debug("request frame",
				"apiKey", header.APIKey, "apiVersion", header.APIVersion, "correlationId", header.CorrelationID, "bytes", len(frame.Payload))
		}

		if first {
			if f.machine.Current() == StateAwaitingFirstFrame {
				if err := f.machine.Transition(StateReady); err != nil {
					return err
				}
			}
			if err := f.machine.Transition(StateConnectingUpstream); err != nil {
				return err
			}
			if err := f.machine.Transition(StateRelaying); err != nil {
				return err
			}
			first = false
		}

		seq := f.orderer.Admit()
		f.admit()
		go f.process(ctx, seq, header, frame.Payload)
	}
}

// runSaslGate terminates the SASL exchange at the proxy before any
// frame is relayed. ApiVersions is the one API clients may probe
// pre-auth; it is answered through the chain's short-circuit.
// Everything else before a successful SaslAuthenticate closes the
// connection.
func (f *FrontendConn) runSaslGate(ctx context.Context) error {
	mechanism := ""
	for {
		frame, err := kafkaproto.ReadFrame(f.conn)
		if err != nil {
			return err
		}
		header, _, err := kafkaproto.ParseRequestHeader(frame.Payload)
		if err != nil {
			return err
		}
		if f.machine.Current() == StateAwaitingFirstFrame {
			if err := f.machine.Transition(StateAuthGating); err != nil {
				return err
			}
		}

		switch header.APIKey {
		case kafkaproto.APIKeyApiVersion:
			result := f.chain.HandleRequest(ctx, &filter.Frame{
				APIKey: header.APIKey, APIVersion: header.APIVersion, CorrelationID: header.CorrelationID, Raw: frame.Payload,
			})
			if result.Action != filter.ActionShortCircuit || result.Response == nil {
				return fmt.Errorf("proxyconn: api versions unanswerable during sasl gate")
			}
			if err := kafkaproto.WriteFrame(f.conn, result.Response.Raw); err != nil {
				return err
			}
		case kafkaproto.APIKeySaslHandshake:
			hdr, req, err := kafkaproto.ParseSaslHandshakeRequest(frame.Payload)
			if err != nil {
				return err
			}
			supported := false
			for _, m := range f.Auth.Mechanisms() {
				if m == req.Mechanism {
					supported = true
					break
				}
			}
			code := kafkaproto.NONE
			if !supported {
				code = kafkaproto.UNSUPPORTED_SASL_MECHANISM
			}
			if err := kafkaproto.WriteFrame(f.conn, kafkaproto.EncodeSaslHandshakeResponse(hdr.CorrelationID, code, f.Auth.Mechanisms())); err != nil {
				return err
			}
			if supported {
				mechanism = req.Mechanism
			}
		case kafkaproto.APIKeySaslAuthenticate:
			hdr, req, err := kafkaproto.ParseSaslAuthenticateRequest(frame.Payload)
			if err != nil {
				return err
			}
			if mechanism == "" {
				msg := "SaslAuthenticate before successful SaslHandshake"
				_ = kafkaproto.WriteFrame(f.conn, kafkaproto.EncodeSaslAuthenticateResponse(hdr.CorrelationID, kafkaproto.ILLEGAL_SASL_STATE, &msg, nil, hdr.APIVersion))
				return fmt.Errorf("%w: no handshake", ErrAuthenticationFailed)
			}
			principal, err := f.Auth.Authenticate(mechanism, req.AuthBytes)
			if err != nil {
				msg := "authentication failed"
				_ = kafkaproto.WriteFrame(f.conn, kafkaproto.EncodeSaslAuthenticateResponse(hdr.CorrelationID, kafkaproto.SASL_AUTHENTICATION_FAILED, &msg, nil, hdr.APIVersion))
				return err
			}
			if err := kafkaproto.WriteFrame(f.conn, kafkaproto.EncodeSaslAuthenticateResponse(hdr.CorrelationID, kafkaproto.NONE, nil, nil, hdr.APIVersion)); err != nil {
				return err
			}
			f.logger.Info("sasl authentication succeeded", "principal", principal, "mechanism", mechanism)
			return f.machine.Transition(StateReady)
		default:
			return fmt.Errorf("proxyconn: api key %d received before authentication", header.APIKey)
		}
	}
}

func (f *FrontendConn) process(ctx context.Context, seq uint64, header *kafkaproto.RequestHeader, payload []byte) {
	frm := &filter.Frame{APIKey: header.APIKey, APIVersion: header.APIVersion, CorrelationID: header.CorrelationID, Raw: payload}

	result := filter.Result{Action: filter.ActionForward, Frame: frm}
	if f.chain.SubscribesRequest(header.APIKey) {
		start := time.Now()
		result = f.chain.HandleRequest(ctx, frm)
		metrics.FilterChainDuration.WithLabelValues("request").Observe(time.Since(start).Seconds())
	}
	switch result.Action {
	case filter.ActionFail:
		f.completeWithError(seq, header, payload, result.Err)
		return
	case filter.ActionShortCircuit:
		metrics.RequestsTotal.WithLabelValues(strconv.Itoa(int(header.APIKey)), "short_circuit").Inc()
		f.orderer.Complete(seq, result)
		return
	}

	done, err := f.backend.Send(header, result.Frame.Raw)
	if err != nil {
		f.completeWithError(seq, header, payload, err)
		return
	}
	fr := <-done
	if fr.err != nil {
		f.completeWithError(seq, header, payload, fr.err)
		return
	}

	respFrame := &filter.Frame{APIKey: header.APIKey, APIVersion: header.APIVersion, CorrelationID: header.CorrelationID, Raw: fr.payload}
	respResult := filter.Result{Action: filter.ActionForward, Frame: respFrame}
	if f.chain.SubscribesResponse(header.APIKey) {
		start := time.Now()
		respResult = f.chain.HandleResponse(ctx, respFrame)
		metrics.FilterChainDuration.WithLabelValues("response").Observe(time.Since(start).Seconds())
	}
	if respResult.Action == filter.ActionFail {
		f.completeWithError(seq, header, payload, respResult.Err)
		return
	}
	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(int(header.APIKey)), "relayed").Inc()
	f.orderer.Complete(seq, respResult)
}

// completeWithError answers the failed request with an API-appropriate
// error-coded response when one can be synthesized, so only this
// correlation id fails; otherwise the failure propagates to the write
// loop, which closes the connection.
func (f *FrontendConn) completeWithError(seq uint64, header *kafkaproto.RequestHeader, payload []byte, cause error) {
	if resp, ok := buildErrorResponse(payload, mapErrorCode(cause)); ok {
		f.logger.Warn("request failed, answering with error code",
			"apiKey", header.APIKey, "correlationId", header.CorrelationID, "error", cause)
		metrics.RequestsTotal.WithLabelValues(strconv.Itoa(int(header.APIKey)), "errored").Inc()
		f.orderer.Complete(seq, filter.Result{Action: filter.ActionShortCircuit, Response: &filter.Frame{
			APIKey: header.APIKey, APIVersion: header.APIVersion, CorrelationID: header.CorrelationID, Raw: resp,
		}})
		return
	}
	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(int(header.APIKey)), "failed").Inc()
	f.orderer.Complete(seq, filter.Result{Action: filter.ActionFail, Err: cause})
}

func (f *FrontendConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-f.orderer.Ready():
			if !ok {
				return
			}
			f.release()
			if result.Action == filter.ActionFail {
				f.logger.Warn("closing connection after unanswerable failure", "error", result.Err)
				f.conn.Close()
				return
			}
			payload := responsePayload(result)
			if payload == nil {
				continue
			}
			if err := kafkaproto.WriteFrame(f.conn, payload); err != nil {
				f.logger.Warn("write response frame failed", "error", err)
				return
			}
		}
	}
}

func responsePayload(result filter.Result) []byte {
	switch result.Action {
	case filter.ActionForward:
		if result.Frame != nil {
			return result.Frame.Raw
		}
	case filter.ActionShortCircuit:
		if result.Response != nil {
			return result.Response.Raw
		}
	}
	return nil
}

func (f *FrontendConn) admit() {
	f.mu.Lock()
	f.inFlight++
	f.mu.Unlock()
}

func (f *FrontendConn) release() {
	f.mu.Lock()
	f.inFlight--
	if f.paused && f.inFlight <= f.marks.Low {
		f.paused = false
		f.cond.Broadcast()
	}
	f.mu.Unlock()
}

func (f *FrontendConn) waitForCapacity() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight >= f.marks.High {
		f.paused = true
	}
	for f.paused {
		f.cond.Wait()
	}
}

func (f *FrontendConn) close() {
	f.mu.Lock()
	_ = f.machine.Transition(StateClosing)
	_ = f.machine.Transition(StateClosed)
	f.mu.Unlock()
	f.conn.Close()
}
