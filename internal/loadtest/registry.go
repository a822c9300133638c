package loadtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/FairForge/docstress/internal/session"
)

var (
	ErrDuplicateSession = errors.New("session already exists on document")
	ErrUnknownDocument  = errors.New("document does not exist")
	ErrUnknownSession   = errors.New("session does not exist")
	ErrUnknownPID       = errors.New("pid maps to no active document")
)

// registry tracks the sessions a replay has open. It is owned by a single
// worker and is not safe for concurrent use.
type registry struct {
	// document URL -> session id -> connection
	docs map[string]map[string]*session.Conn
	// trace process id -> document URL
	pidToDoc map[int]string
}

func newRegistry() *registry {
	return &registry{
		docs:     make(map[string]map[string]*session.Conn),
		pidToDoc: make(map[int]string),
	}
}

func (r *registry) hasDocument(uri string) bool {
	_, ok := r.docs[uri]
	return ok
}

func (r *registry) hasSession(uri, sessionID string) bool {
	_, ok := r.docs[uri][sessionID]
	return ok
}

// add registers conn under (uri, sessionID), creating the document entry
// if needed.
func (r *registry) add(uri, sessionID string, conn *session.Conn) error {
	sessions, ok := r.docs[uri]
	if !ok {
		sessions = make(map[string]*session.Conn)
		r.docs[uri] = sessions
	}
	if _, dup := sessions[sessionID]; dup {
		return fmt.Errorf("%w: session [%s] on doc [%s]", ErrDuplicateSession, sessionID, uri)
	}
	sessions[sessionID] = conn
	return nil
}

func (r *registry) mapPID(pid int, uri string) {
	r.pidToDoc[pid] = uri
}

// remove drops (uri, sessionID) and returns its connection. When that was
// the document's last session the document and every pid pointing at it
// are dropped as well, and docClosed is true.
func (r *registry) remove(uri, sessionID string) (conn *session.Conn, docClosed bool, err error) {
	sessions, ok := r.docs[uri]
	if !ok {
		return nil, false, fmt.Errorf("%w: doc [%s]", ErrUnknownDocument, uri)
	}

	conn, ok = sessions[sessionID]
	if ok {
		delete(sessions, sessionID)
	} else {
		err = fmt.Errorf("%w: session [%s] on doc [%s]", ErrUnknownSession, sessionID, uri)
	}

	if len(sessions) == 0 {
		delete(r.docs, uri)
		for pid, doc := range r.pidToDoc {
			if doc == uri {
				delete(r.pidToDoc, pid)
			}
		}
		docClosed = true
	}
	return conn, docClosed, err
}

// resolve maps an incoming record's pid and session to its connection.
func (r *registry) resolve(pid int, sessionID string) (*session.Conn, error) {
	uri, ok := r.pidToDoc[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid [%d]", ErrUnknownPID, pid)
	}
	sessions, ok := r.docs[uri]
	if !ok {
		return nil, fmt.Errorf("%w: doc [%s]", ErrUnknownDocument, uri)
	}
	conn, ok := sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session [%s] on doc [%s]", ErrUnknownSession, sessionID, uri)
	}
	return conn, nil
}

func (r *registry) sessions(uri string) int {
	return len(r.docs[uri])
}

func (r *registry) documents() int {
	return len(r.docs)
}

// closeAll shuts every open session and empties the registry.
func (r *registry) closeAll(ctx context.Context) {
	for uri, sessions := range r.docs {
		for _, conn := range sessions {
			if conn != nil {
				conn.Close(ctx)
			}
		}
		delete(r.docs, uri)
	}
	clear(r.pidToDoc)
}

// dropReason labels err for the replay drop metric.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateSession):
		return "duplicate_session"
	case errors.Is(err, ErrUnknownDocument):
		return "unknown_document"
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, ErrUnknownPID):
		return "unknown_pid"
	default:
		return "other"
	}
}
