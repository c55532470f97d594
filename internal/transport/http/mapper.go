package http

import (
	"errors"

	"github.com/talkroom/talkroom-server/internal/core"
	"github.com/talkroom/talkroom-server/internal/proto"
)

func protoError(code, msg string) *proto.Outbound {
	return &proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	}
}

func outboundFromError(err error) *proto.Outbound {
	var ce *core.CoreError
	if errors.As(err, &ce) {
		return protoError(ce.Code, ce.Message)
	}
	return protoError(core.ErrCodeInternal, "internal error")
}

func outboundFromEvent(event *core.Event) *proto.Outbound {
	switch event.Kind {
	case core.EventRoomMessage:
		return &proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameMessage,
			Data: proto.EventMessage{
				ID:   event.Message.ID,
				Room: event.Message.RoomID,
				User: event.Message.Username,
				Text: event.Message.Body,
				TS:   event.Message.CreatedAt.Unix(),
			},
		}
	case core.EventSubscribed:
		return &proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameSubscribed,
			Data:  proto.EventRoom{Room: event.RoomID},
		}
	case core.EventUnsubscribed:
		return &proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameUnsubscribed,
			Data:  proto.EventRoom{Room: event.RoomID},
		}
	case core.EventError:
		if event.Error == nil {
			return protoError("unknown", "unknown error")
		}
		return protoError(event.Error.Code, event.Error.Message)
	default:
		return &proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
