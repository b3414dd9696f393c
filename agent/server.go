package agent

import (
	"context"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/errors"
	"github.com/m4xw311/cadlink/transport"
)

// Serve accepts CAD-side connections on l until ctx ends. Each connection
// is read sequentially; runs stream their events concurrently.
func (a *Agent) Serve(ctx context.Context, l *transport.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	a.log.Info("agent listening", zap.Stringer("address", l.Addr()))
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// A rejected peer leaves the listener usable.
			a.log.Warn("connection rejected", zap.Error(err))
			continue
		}
		go a.serveConn(ctx, conn)
	}
}

func (a *Agent) serveConn(ctx context.Context, conn *transport.Conn) {
	log := a.log.With(zap.Stringer("peer", conn.RemoteAddr()))
	log.Info("cad connected")
	defer conn.Close()
	defer a.cancelOwnedBy(conn)

	for {
		var m transport.Message
		if err := conn.Receive(&m); err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("cad disconnected")
			} else {
				log.Warn("read error", zap.Error(err))
			}
			return
		}
		a.handle(ctx, conn, m)
	}
}

// handle executes one message. Failures are reported to the sender as error
// frames.
func (a *Agent) handle(ctx context.Context, out Emitter, m transport.Message) {
	a.log.Debug("message", zap.String("type", m.MessageType), zap.String("function", m.FunctionName), zap.String("run", m.RunID))
	var err error
	switch m.MessageType {
	case transport.MessageThreadUpdate:
		_, err = a.Start(ctx, out, m.Content)
	case transport.MessageToolOutputs:
		err = a.SubmitOutputs(m.RunID, m.ToolOutputs)
	case transport.MessageFunctionCall:
		content, runID, ferr := a.Function(ctx, m.FunctionName, m.FunctionArgs)
		if ferr != nil {
			a.reply(out, transport.Event{
				ResponseType: transport.ResponseError,
				Event:        transport.EventError,
				FunctionName: m.FunctionName,
				Content:      ferr.Error(),
			})
			return
		}
		a.reply(out, transport.Event{
			ResponseType: transport.ResponseEvent,
			Event:        transport.EventFunctionResult,
			FunctionName: m.FunctionName,
			RunID:        runID,
			Content:      content,
		})
		return
	case transport.MessageStartRecord, transport.MessageStopRecord:
		// Transcription happens elsewhere; the markers are only logged.
		a.log.Info("recording marker", zap.String("type", m.MessageType))
		return
	default:
		err = errors.New("unknown message type '%s'", m.MessageType)
	}
	if err != nil {
		a.reply(out, transport.Event{
			ResponseType: transport.ResponseError,
			Event:        transport.EventError,
			RunID:        m.RunID,
			Content:      err.Error(),
		})
	}
}

func (a *Agent) reply(out Emitter, ev transport.Event) {
	if err := out.Send(ev); err != nil {
		a.log.Warn("reply not delivered", zap.String("event", ev.Event), zap.Error(err))
	}
}
