package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/actor"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lapce-tools/dap-client/dapclient"
)

// DapCmd is a lifecycle command routed to a session's actor, the control
// surface a supervisor reaches for instead of per-request tool calls -
// e.g. stopping every session together on process shutdown.
type DapCmd struct {
	Stop     bool
	Restart  map[string][]dapclient.BreakpointLocation
	Shutdown bool
}

// DapResp acknowledges a DapCmd.
type DapResp struct {
	Status string
}

// sessionActor adapts a *dapclient.Session's lifecycle methods to the
// actor system's Receive contract, so a supervisor can drive a session's
// Stop/Restart/Shutdown through an actor reference instead of holding a
// direct pointer to it.
type sessionActor struct {
	sess *dapclient.Session
}

func (a *sessionActor) Receive(_ context.Context, cmd *DapCmd) fn.Result[*DapResp] {
	switch {
	case cmd.Shutdown:
		a.sess.Shutdown()
		return fn.Ok(&DapResp{Status: "shutdown"})
	case cmd.Restart != nil:
		a.sess.Restart(cmd.Restart)
		return fn.Ok(&DapResp{Status: "restart requested"})
	case cmd.Stop:
		a.sess.Stop()
		return fn.Ok(&DapResp{Status: "stop requested"})
	default:
		return fn.Err[*DapResp](fmt.Errorf("empty DapCmd"))
	}
}

// Registry tracks one actor per live session, keyed by DapId, in a
// shared actor.ActorSystem. Any other actor in the process can look a
// session's lifecycle actor up via Receptionist/ServiceKey without
// holding a direct *dapclient.Session reference.
type Registry struct {
	system *actor.ActorSystem

	mu  sync.Mutex
	ids map[dapclient.DapId]struct{}
}

// NewRegistry creates a Registry backed by a fresh actor system.
func NewRegistry() *Registry {
	return &Registry{
		system: actor.NewActorSystem(),
		ids:    make(map[dapclient.DapId]struct{}),
	}
}

func serviceKeyName(id dapclient.DapId) string {
	return fmt.Sprintf("dap-session-%d", id)
}

// Register makes sess reachable as an actor under its own DapId.
func (r *Registry) Register(id dapclient.DapId, sess *dapclient.Session) {
	name := serviceKeyName(id)
	key := actor.NewServiceKey[*DapCmd, *DapResp](name)
	actor.RegisterWithSystem(r.system, name, key, actor.NewFunctionBehavior((&sessionActor{sess: sess}).Receive))

	r.mu.Lock()
	r.ids[id] = struct{}{}
	r.mu.Unlock()
}

// Deregister forgets id, e.g. once its session has already torn itself
// down through some other path (a disconnect tool call) and no longer
// needs to be reached on a later ShutdownAll.
func (r *Registry) Deregister(id dapclient.DapId) {
	r.mu.Lock()
	delete(r.ids, id)
	r.mu.Unlock()
}

// Lookup finds the actor reference registered for id, if any.
func (r *Registry) Lookup(id dapclient.DapId) (actor.ActorRef[*DapCmd, *DapResp], bool) {
	key := actor.NewServiceKey[*DapCmd, *DapResp](serviceKeyName(id))
	refs := actor.FindInReceptionist(r.system.Receptionist(), key)
	if len(refs) == 0 {
		var zero actor.ActorRef[*DapCmd, *DapResp]
		return zero, false
	}
	return refs[0], true
}

// ShutdownAll asks every still-registered session to shut itself down and
// waits for each to acknowledge, so a process exit always leaves adapter
// subprocesses and their terminals cleaned up rather than orphaned.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]dapclient.DapId, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		ref, ok := r.Lookup(id)
		if !ok {
			continue
		}
		future := ref.Ask(ctx, &DapCmd{Shutdown: true})
		future.Await(ctx).Unpack()
		r.Deregister(id)
	}
}

// Shutdown tears down the actor system, ending every registered session
// actor along with it. Call ShutdownAll first to let sessions close their
// adapters and terminals cleanly.
func (r *Registry) Shutdown() {
	r.system.Shutdown()
}
