package sipleg

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/anttila/ccbridge/internal/call"
	"github.com/anttila/ccbridge/internal/eventloop"
)

// dialTimeout bounds how long an outbound INVITE waits for a final
// response before it is treated as a failure (§4.7).
const dialTimeout = 32 * time.Second

// Agent wires sipgo's UA/Server/Client trio (grounded on
// services/signaling/app/app.go) into an outbound-only dialing surface:
// it originates INVITEs toward a single fixed peer and folds every
// response back onto the shared event loop before touching call state.
type Agent struct {
	loop          *eventloop.Loop
	ua            *sipgo.UserAgent
	server        *sipgo.Server
	client        *sipgo.Client
	peerURI       string
	advertiseAddr string
	advertisePort int
	contactUser   string

	legs map[string]*Leg
}

// NewAgent builds the sipgo stack and registers the handlers this bridge
// needs as a UAC: incoming BYE for an answered leg, and incoming CANCEL,
// which is always answered with 481. No REGISTER/INVITE handling is installed since
// this bridge never receives inbound calls (Non-goal).
func NewAgent(loop *eventloop.Loop, advertiseAddr string, advertisePort int, peerURI string) (*Agent, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("sipleg: create user agent: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("sipleg: create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("sipleg: create client: %w", err)
	}

	a := &Agent{
		loop:          loop,
		ua:            ua,
		server:        server,
		client:        client,
		peerURI:       peerURI,
		advertiseAddr: advertiseAddr,
		advertisePort: advertisePort,
		contactUser:   "ccbridge",
		legs:          make(map[string]*Leg),
	}

	server.OnRequest(sip.BYE, a.handleBye)
	server.OnRequest(sip.CANCEL, a.handleCancel)

	return a, nil
}

// ListenAndServe starts the SIP transport listener (grounded on
// app.go's proxy.srv.ListenAndServe). Blocks until ctx is done or the
// listener fails.
func (a *Agent) ListenAndServe(ctx context.Context, network, listenAddr string) error {
	return a.server.ListenAndServe(ctx, network, listenAddr)
}

// Originate starts an outbound INVITE for the given call, advertising
// the initial leg's already-known RTP endpoint as the offer (this
// bridge never transcodes or relays media — the SDP offered to the SIP
// peer names the GSM-side RTP endpoint directly, §9 Non-goals).
// Response handling runs asynchronously; owner's remote leg is attached
// by the caller once this returns.
func (a *Agent) Originate(owner *call.Call, offerEndpoint call.MediaEndpoint, codecName string) (*Leg, error) {
	callID := uuid.New().String()
	leg := newLeg(a, callID, codecName)
	leg.owner = owner
	a.legs[callID] = leg

	var rtpIP [4]byte
	binary.BigEndian.PutUint32(rtpIP[:], offerEndpoint.IP)
	body, err := BuildOffer(net.IP(rtpIP[:]).String(), offerEndpoint.Port, offerEndpoint.PayloadType, codecName)
	if err != nil {
		delete(a.legs, callID)
		return nil, fmt.Errorf("sipleg: build offer: %w", err)
	}

	invite, err := a.buildInvite(callID, body)
	if err != nil {
		delete(a.legs, callID)
		return nil, fmt.Errorf("sipleg: build invite: %w", err)
	}
	leg.invite = invite

	go a.executeInvite(leg, invite)
	return leg, nil
}

func (a *Agent) buildInvite(callID string, body []byte) (*sip.Request, error) {
	var recipient sip.Uri
	if err := sip.ParseUri(a.peerURI, &recipient); err != nil {
		return nil, fmt.Errorf("parse peer uri: %w", err)
	}

	invite := sip.NewRequest(sip.INVITE, recipient)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromURI := sip.Uri{Scheme: "sip", User: a.contactUser, Host: a.advertiseAddr, Port: a.advertisePort}
	fromParams := sip.NewParams()
	fromParams.Add("tag", uuid.New().String()[:8])
	invite.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})

	invite.AppendHeader(&sip.ToHeader{Address: recipient, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(callID)
	invite.AppendHeader(&callIDHdr)

	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})

	contactURI := sip.Uri{Scheme: "sip", User: a.contactUser, Host: a.advertiseAddr, Port: a.advertisePort}
	invite.AppendHeader(&sip.ContactHeader{Address: contactURI})

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(body)

	return invite, nil
}

// executeInvite drives the INVITE transaction on its own goroutine (the
// transaction itself blocks on network I/O) and posts every outcome back
// onto the event loop, mirroring the original's nua_callback dispatch.
func (a *Agent) executeInvite(leg *Leg, invite *sip.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	tx, err := a.client.TransactionRequest(ctx, invite)
	if err != nil {
		a.loop.Post(func() {
			slog.Warn("sipleg: invite transaction failed", "call_id", leg.callID, "err", err)
			leg.onFailedOrBye()
		})
		return
	}
	a.loop.Post(func() { leg.tx = tx })

	for {
		select {
		case <-ctx.Done():
			a.loop.Post(func() {
				slog.Info("sipleg: dial timed out", "call_id", leg.callID)
				leg.onFailedOrBye()
			})
			return

		case resp := <-tx.Responses():
			if resp == nil {
				a.loop.Post(leg.onFailedOrBye)
				return
			}
			done := a.handleResponse(leg, resp, invite, tx)
			if done {
				return
			}

		case <-tx.Done():
			return
		}
	}
}

// handleResponse mirrors the original's status-code branching inside
// nua_callback/call_progress/call_connect. Returns true once the
// transaction has reached a terminal outcome.
func (a *Agent) handleResponse(leg *Leg, resp *sip.Response, invite *sip.Request, tx sip.ClientTransaction) bool {
	status := int(resp.StatusCode)
	switch {
	case status == 100:
		return false

	case status == 180 || status == 181:
		a.loop.Post(leg.onRinging)
		return false

	case status >= 200 && status < 300:
		body := resp.Body()
		a.loop.Post(func() {
			if err := leg.onAnswered(body); err != nil {
				slog.Warn("sipleg: rejecting incompatible answer", "call_id", leg.callID, "err", err)
				go a.sendBye(leg)
				leg.onFailedOrBye()
				return
			}
			go a.sendAck(leg, resp, invite)
		})
		return true

	default:
		a.loop.Post(func() {
			slog.Info("sipleg: invite rejected", "call_id", leg.callID, "status", status)
			leg.onFailedOrBye()
		})
		return true
	}
}

// sendAck sends the dialog-establishing ACK for a 2xx response
// (grounded on originator.go's sendACK: the ACK for a 2xx is a separate
// request, not part of the INVITE transaction).
func (a *Agent) sendAck(leg *Leg, resp *sip.Response, invite *sip.Request) {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if dest := resp.Source(); dest != "" {
		ack.SetDestination(dest)
	}

	if err := a.client.WriteRequest(ack); err != nil {
		slog.Warn("sipleg: ack write failed", "call_id", leg.callID, "err", err)
	}
}

// cancelInvite sends CANCEL for an INVITE still awaiting a final
// response (grounded on originator.go's sendCANCEL).
func (a *Agent) cancelInvite(leg *Leg) {
	if leg.invite == nil {
		return
	}
	cancelReq := sip.NewRequest(sip.CANCEL, leg.invite.Recipient)
	sip.CopyHeaders("Via", leg.invite, cancelReq)
	sip.CopyHeaders("From", leg.invite, cancelReq)
	sip.CopyHeaders("To", leg.invite, cancelReq)
	sip.CopyHeaders("Call-ID", leg.invite, cancelReq)
	if cseq := leg.invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := a.client.TransactionRequest(ctx, cancelReq)
	if err != nil {
		slog.Warn("sipleg: cancel send failed", "call_id", leg.callID, "err", err)
		return
	}
	select {
	case <-tx.Responses():
	case <-tx.Done():
	case <-ctx.Done():
	}
}

// sendBye terminates an answered dialog (grounded on originator.go's
// SendBYE).
func (a *Agent) sendBye(leg *Leg) {
	if leg.invite == nil {
		return
	}
	bye := sip.NewRequest(sip.BYE, leg.invite.Recipient)
	sip.CopyHeaders("From", leg.invite, bye)
	sip.CopyHeaders("To", leg.invite, bye)
	sip.CopyHeaders("Call-ID", leg.invite, bye)
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)
	if cseq := leg.invite.CSeq(); cseq != nil {
		bye.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo + 1, MethodName: sip.BYE})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := a.client.TransactionRequest(ctx, bye)
	if err != nil {
		slog.Warn("sipleg: bye send failed", "call_id", leg.callID, "err", err)
		return
	}
	select {
	case <-tx.Responses():
	case <-tx.Done():
	case <-ctx.Done():
	}
}

// handleBye answers an in-dialog BYE from the peer and cascades release
// to the other leg (grounded on nua_callback's nua_i_bye path).
func (a *Agent) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if id := req.CallID(); id != nil {
		callID = string(*id)
	}

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		slog.Warn("sipleg: failed to respond to BYE", "call_id", callID, "err", err)
	}

	a.loop.Post(func() {
		leg, ok := a.legs[callID]
		if !ok {
			return
		}
		leg.onFailedOrBye()
	})
}

// handleCancel answers a CANCEL for a dialog the peer is tearing down
// before answering; this bridge is always the UAC so it should never
// receive one, but a defensive 481 keeps the transaction layer honest.
func (a *Agent) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call Leg/Transaction Does Not Exist", nil)
	_ = tx.Respond(resp)
}
