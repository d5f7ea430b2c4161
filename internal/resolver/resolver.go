// Package resolver implements the resolver pipeline: the per-query state
// machine that turns raw wire bytes into a wire-format response, gating on
// the deny/allow matcher, consulting the answer cache, and falling through
// to the upstream provider selector on a miss.
//
//	RECEIVED -> PARSED -> CHECKED -> MISS -> UPSTREAM_DONE -> RESPONDED -> DONE
//
// Grounded on the teacher's internal/resolvers.FilteringResolver
// (policy-gate-then-delegate), internal/resolvers.Chained (first-success
// composition contract), and internal/server.QueryHandler (parse, timeout
// enforcement via a per-query goroutine racing a timer, and FORMERR/SERVFAIL
// synthesis on parse or timeout failure).
package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/elkhorn-labs/dnsward/internal/cache"
	"github.com/elkhorn-labs/dnsward/internal/eventbus"
	"github.com/elkhorn-labs/dnsward/internal/policy"
	"github.com/elkhorn-labs/dnsward/internal/selector"
	"github.com/elkhorn-labs/dnsward/internal/store"
	"github.com/elkhorn-labs/dnsward/internal/wire"
)

// DefaultTimeout bounds end-to-end query resolution (RECEIVED to RESPONDED)
// when Pipeline.Timeout is unset.
const DefaultTimeout = 5 * time.Second

// DefaultBlockRCode is returned for a denylist hit when Pipeline.BlockRCode
// is unset. NOERROR with a zero address is an accepted alternative per the
// block-response edge case; NXDOMAIN is the default this pipeline applies.
const DefaultBlockRCode = wire.RCodeNXDomain

// TopicLogEvent is the event-bus topic carrying one store.LogEntry per
// handled query.
const TopicLogEvent = "dns/log/event"

// Result is the outcome of one Handle call.
type Result struct {
	ResponseBytes []byte
	// Source identifies where ResponseBytes came from: "cache", "upstream",
	// "blocked", "formerr", "timeout", or "servfail".
	Source       string
	Cached       bool
	Blocked      bool
	Whitelisted  bool
	ResponseTime time.Duration
}

// Pipeline wires the policy matcher, cache engine, and provider selector
// into the query-resolution state machine. Logs and Bus are optional; a nil
// value skips that step. The zero value is not usable as-is: Policy,
// Cache, and Selector must be set before calling Handle.
type Pipeline struct {
	Policy   *policy.Matcher
	Cache    *cache.Engine
	Selector *selector.Selector
	Logs     store.LogsDriver
	Bus      *eventbus.Bus
	Logger   *slog.Logger
	Timeout  time.Duration
	// BlockRCode is the rcode synthesized for a denylist hit. Defaults to
	// NXDomain.
	BlockRCode wire.RCode
}

// Handle resolves one raw wire-format query, enforcing Timeout end to end.
// It never returns an error: every failure path synthesizes a best-effort
// wire-format response (FORMERR for an unparseable query, SERVFAIL on
// timeout or upstream exhaustion) so the caller always has bytes to write
// back to the client.
func (p *Pipeline) Handle(ctx context.Context, transport, clientAddr string, reqBytes []byte) Result {
	start := time.Now()

	req, err := wire.ParseRequestBounded(reqBytes)
	if err != nil {
		return p.finish(ctx, transport, clientAddr, wire.Packet{}, "<unparseable>", start, p.handleParseError(reqBytes))
	}

	q := req.Questions[0]

	if verdict := p.evaluatePolicy(ctx, q.Name); verdict.Action == policy.ActionBlock {
		resp := p.buildBlocked(req)
		return p.finish(ctx, transport, clientAddr, req, q.Name, start, Result{
			ResponseBytes: resp,
			Source:        "blocked",
			Blocked:       true,
		})
	} else if verdict.List == "allowlist" {
		// Whitelisted queries still fall through to CHECKED/MISS below; the
		// allowlist only short-circuits the denylist check, not resolution.
		result := p.resolveWithTimeout(ctx, req, reqBytes)
		result.Whitelisted = true
		return p.finish(ctx, transport, clientAddr, req, q.Name, start, result)
	}

	result := p.resolveWithTimeout(ctx, req, reqBytes)
	return p.finish(ctx, transport, clientAddr, req, q.Name, start, result)
}

func (p *Pipeline) evaluatePolicy(ctx context.Context, name string) policy.Result {
	if p.Policy == nil {
		return policy.Result{Action: policy.ActionAllow}
	}
	return p.Policy.Evaluate(ctx, name)
}

// buildBlocked synthesizes a denylist-hit response. BlockRCode defaults to
// NXDomain; a deployment that wants the NOERROR-with-zero-address variant
// instead must set BlockRCode explicitly (RCodeNoError's zero value is
// indistinguishable from "unset", so there is no way to default to NXDomain
// and still allow NoError to be chosen without an explicit field).
func (p *Pipeline) buildBlocked(req wire.Packet) []byte {
	rcode := p.BlockRCode
	if rcode == wire.RCodeNoError {
		rcode = DefaultBlockRCode
	}
	resp := wire.BuildErrorResponse(req, rcode)
	b, err := resp.Marshal()
	if err != nil {
		return nil
	}
	return b
}

// resolveWithTimeout runs the CHECKED/MISS/UPSTREAM_DONE steps on a
// goroutine raced against Timeout and ctx, mirroring the teacher's
// per-query timeout-enforcement pattern: a blocking resolve never holds a
// worker past the deadline, it is simply abandoned in favor of a
// synthesized SERVFAIL.
func (p *Pipeline) resolveWithTimeout(ctx context.Context, req wire.Packet, reqBytes []byte) Result {
	type outcome struct {
		resp   []byte
		cached bool
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, cached, err := p.resolve(ctx, req, reqBytes)
		done <- outcome{resp: resp, cached: cached, err: err}
	}()

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Result{ResponseBytes: p.buildServfail(req), Source: "timeout"}
	case <-timer.C:
		return Result{ResponseBytes: p.buildServfail(req), Source: "timeout"}
	case o := <-done:
		if o.err != nil {
			return Result{ResponseBytes: p.buildServfail(req), Source: "servfail"}
		}
		source := "upstream"
		if o.cached {
			source = "cache"
		}
		return Result{ResponseBytes: wire.PatchTransactionID(o.resp, req.Header.ID), Source: source, Cached: o.cached}
	}
}

// resolve performs the CHECKED/MISS/UPSTREAM_DONE steps: a cache lookup
// keyed on the normalized question, falling through to the provider
// selector on miss. The response returned here still carries whatever
// transaction id its source (a prior cache writer, or this attempt's
// upstream round trip) happened to stamp; resolveWithTimeout re-ids it
// before handing it back to the caller.
func (p *Pipeline) resolve(ctx context.Context, req wire.Packet, reqBytes []byte) ([]byte, bool, error) {
	key := req.Questions[0].Key()

	if p.Cache == nil {
		resp, err := p.Selector.Resolve(ctx, reqBytes)
		return resp, false, err
	}

	return p.Cache.Lookup(ctx, key, func(ctx context.Context) ([]byte, error) {
		return p.Selector.Resolve(ctx, reqBytes)
	})
}

func (p *Pipeline) buildServfail(req wire.Packet) []byte {
	resp := wire.BuildErrorResponse(req, wire.RCodeServFail)
	b, err := resp.Marshal()
	if err != nil {
		return nil
	}
	return b
}

// handleParseError attempts to synthesize a FORMERR response from a
// malformed query, recovering whatever header and question it can.
func (p *Pipeline) handleParseError(reqBytes []byte) Result {
	resp := tryBuildErrorFromRaw(reqBytes, wire.RCodeFormErr)
	if resp == nil {
		return Result{Source: "formerr"}
	}
	return Result{ResponseBytes: resp, Source: "formerr"}
}

// tryBuildErrorFromRaw recovers the transaction id (and question, if
// present) from a query too malformed for wire.ParseRequestBounded, so a
// FORMERR response can still echo the id the client is waiting on.
func tryBuildErrorFromRaw(reqBytes []byte, rcode wire.RCode) []byte {
	off := 0
	h, err := wire.ParseHeader(reqBytes, &off)
	if err != nil {
		return nil
	}

	var questions []wire.Question
	if h.QDCount > 0 {
		if q, err := wire.ParseQuestion(reqBytes, &off); err == nil {
			questions = []wire.Question{q}
		}
	}

	req := wire.Packet{Header: wire.Header{ID: h.ID, Flags: h.Flags}, Questions: questions}
	b, err := wire.BuildErrorResponse(req, rcode).Marshal()
	if err != nil {
		return nil
	}
	return b
}

// finish records the response-time metric (RECEIVED->RESPONDED), then
// emits a best-effort log entry and event for the query before returning
// result to the caller unchanged. Logging and eventing never block or fail
// the response: a driver or subscriber problem is swallowed here, exactly
// as a cache.Set failure does not unwind an otherwise-successful resolve.
func (p *Pipeline) finish(ctx context.Context, transport, clientAddr string, req wire.Packet, qname string, start time.Time, result Result) Result {
	result.ResponseTime = time.Since(start)
	p.emit(ctx, transport, clientAddr, req, qname, start, result)
	return result
}

func (p *Pipeline) emit(ctx context.Context, transport, clientAddr string, req wire.Packet, qname string, start time.Time, result Result) {
	entry := store.LogEntry{
		Timestamp: start,
		Kind:      store.LogKindRequest,
		Level:     store.LevelInfo,
		Question:  qname,
		Client:    &store.ClientInfo{Addr: clientAddr, Transport: transport},
		Processing: &store.Processing{
			Provider:       result.Source,
			ResponseTimeMs: result.ResponseTime.Milliseconds(),
			Cached:         result.Cached,
			Blocked:        result.Blocked,
			Whitelisted:    result.Whitelisted,
			Success:        result.ResponseBytes != nil,
		},
	}
	if result.ResponseBytes == nil {
		entry.Level = store.LevelWarn
	}

	if p.Logs != nil {
		if err := p.Logs.Append(ctx, entry); err != nil {
			if console, cerr := store.NewConsoleLogsDriver(nil); cerr == nil {
				_ = console.Append(ctx, entry)
			}
		}
	}
	if p.Bus != nil {
		p.Bus.Publish(TopicLogEvent, entry)
	}
}
