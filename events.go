package evfs

import (
	"context"
	"sync"
)

// PathEvent is the path-shaped event watch_tree observers receive, after
// eventRouter has resolved an objId-addressed StoreEvent into a
// consumer-visible path. watch_folder/watch_file observers receive raw
// StoreEvents directly from the owning FolderNode/FileNode, since those are
// already at the right path by construction.
type PathEvent struct {
	Path  string
	Event StoreEvent
}

// pendingMove is one half of a cross-folder move correlation: either the
// destination side arrived first (newPath known, objId pending) or the
// source side arrived first (objId known, newPath pending).
type pendingMove struct {
	hasNewPath bool
	newPath    string
	hasObjID   bool
	objID      ObjectID
}

// eventRouter implements the ObjIdToPath translation a single watch_tree
// subscription owns: depth-first snapshot of the watched subtree, kept
// current by replaying the store's low-level NodeEvent stream in delivery
// order, with pendingMoves correlating a cross-folder move's removal and
// addition into one moveLabel.
type eventRouter struct {
	mu           sync.Mutex
	objToPath    map[ObjectID]string
	pathToObj    map[string]ObjectID
	pendingMoves map[string]pendingMove
}

func newEventRouter() *eventRouter {
	return &eventRouter{
		objToPath:    make(map[ObjectID]string),
		pathToObj:    make(map[string]ObjectID),
		pendingMoves: make(map[string]pendingMove),
	}
}

// seed registers objID at p, used during the initial depth-first walk of
// the watched subtree before event replay begins.
func (r *eventRouter) seed(objID ObjectID, p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(objID, p)
}

func (r *eventRouter) insertLocked(objID ObjectID, p string) {
	if old, ok := r.objToPath[objID]; ok {
		delete(r.pathToObj, old)
	}
	r.objToPath[objID] = p
	r.pathToObj[p] = objID
}

func (r *eventRouter) removeLocked(objID ObjectID) {
	if p, ok := r.objToPath[objID]; ok {
		delete(r.pathToObj, p)
		delete(r.objToPath, objID)
	}
}

// pathOf returns the current path of objID, if it is within the watched
// subtree.
func (r *eventRouter) pathOf(objID ObjectID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.objToPath[objID]
	return p, ok
}

// handle applies one low-level NodeEvent per spec §4.G's event-correction
// algorithm, mutating the ObjIdToPath map and returning the path-shaped
// events to publish. Must be invoked single-threaded, in store delivery
// order; watchTree is the only caller.
func (r *eventRouter) handle(ev NodeEvent) []PathEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, known := r.objToPath[ev.ObjID]
	if !known {
		if ev.ParentObjID == nil || ev.Event.Kind == EvRemoved {
			return nil // not in the watched subtree
		}
		parentPath, ok := r.objToPath[*ev.ParentObjID]
		if !ok {
			return nil
		}
		newPath := joinChild(parentPath, childNameOf(ev.Event))
		r.insertLocked(ev.ObjID, newPath)
		return []PathEvent{{Path: newPath, Event: ev.Event}}
	}

	switch ev.Event.Kind {
	case EvRemoved:
		r.removeLocked(ev.ObjID)
		return []PathEvent{{Path: p, Event: ev.Event}}

	case EvEntryRenaming:
		oldPath := joinChild(p, ev.Event.OldName)
		newPath := joinChild(p, ev.Event.NewName)
		if childID, ok := r.pathToObj[oldPath]; ok {
			r.insertLocked(childID, newPath)
		}
		return []PathEvent{{Path: p, Event: ev.Event}}

	case EvEntryRemoval:
		childPath := joinChild(p, ev.Event.Name)
		childID, haveChild := r.pathToObj[childPath]
		if label := ev.Event.MoveLabel; label != "" {
			if pm, ok := r.pendingMoves[label]; ok && pm.hasNewPath {
				if haveChild {
					r.insertLocked(childID, pm.newPath)
				}
				delete(r.pendingMoves, label)
				return []PathEvent{{Path: childPath, Event: ev.Event}}
			}
			r.pendingMoves[label] = pendingMove{hasObjID: haveChild, objID: childID}
			return []PathEvent{{Path: childPath, Event: ev.Event}}
		}
		if haveChild {
			r.removeLocked(childID)
		}
		return []PathEvent{{Path: childPath, Event: ev.Event}}

	case EvEntryAddition:
		newPath := joinChild(p, ev.Event.Name)
		if label := ev.Event.MoveLabel; label != "" {
			if pm, ok := r.pendingMoves[label]; ok && pm.hasObjID {
				r.insertLocked(pm.objID, newPath)
				delete(r.pendingMoves, label)
				return []PathEvent{{Path: newPath, Event: ev.Event}}
			}
			r.pendingMoves[label] = pendingMove{hasNewPath: true, newPath: newPath}
			return []PathEvent{{Path: newPath, Event: ev.Event}}
		}
		return []PathEvent{{Path: newPath, Event: ev.Event}}

	default:
		return []PathEvent{{Path: p, Event: ev.Event}}
	}
}

func childNameOf(ev StoreEvent) string {
	if ev.Name != "" {
		return ev.Name
	}
	return ev.NewName
}

func joinChild(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// watchTree replays a Storage NodeEvent stream through router, publishing
// the resulting PathEvents to out until ctx is done or events closes.
// VFSRoot.WatchTree runs this in its own goroutine per subscription.
func watchTree(ctx context.Context, events <-chan NodeEvent, router *eventRouter, out chan<- PathEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			for _, pe := range router.handle(ev) {
				select {
				case out <- pe:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
