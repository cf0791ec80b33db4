package xappflow

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestHandlerExportsPropagateErrors(t *testing.T) {
	if err := RegisterJSONHandler[*structpb.Struct, *structpb.Struct](nil, JSONHandlerRegistration[*structpb.Struct, *structpb.Struct]{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}

	if err := RegisterProtoHandler[*structpb.Struct](nil, ProtoHandlerRegistration[*structpb.Struct]{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}

	if err := RegisterMessageHandler(nil, MessageHandlerRegistration{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}
}

func TestProtoMessageHelpers(t *testing.T) {
	msg, err := NewProtoMessage[*structpb.Struct]()
	if err != nil {
		t.Fatalf("unexpected error creating proto: %v", err)
	}
	if msg == nil {
		t.Fatal("expected proto message instance")
	}

	must := MustProtoMessage[*structpb.Struct]()
	if must == nil {
		t.Fatal("expected must helper to return instance")
	}
}

func TestLoggerExports(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	logger := LoggerFromWatermill(capture).With(LogFields{"component": "test"})
	logger.Info("boot", nil)
	if got := len(capture.Captured()[watermill.InfoLogLevel]); got != 1 {
		t.Fatalf("expected 1 captured info line, got %d", got)
	}
	NopLogger().Debug("ignored", nil)
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestNewMsgExport(t *testing.T) {
	msg, err := NewMsg(MaxRcvBytes)
	if err != nil {
		t.Fatalf("unexpected error allocating message: %v", err)
	}
	if msg.MType != -1 || msg.SubID != UnsetSubID {
		t.Fatalf("expected unset header, got mtype %d subid %d", msg.MType, msg.SubID)
	}
}

func TestRouteTableExport(t *testing.T) {
	rt := NewRouteTable()
	rt.Add(60000, UnsetSubID, []string{"localhost:4560"})
	targets, ok := rt.Targets(60000, 7)
	if !ok || len(targets) != 1 || targets[0] != "localhost:4560" {
		t.Fatalf("expected subscription lookup to fall back to the plain entry, got %v %v", targets, ok)
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryValidation != "validation" {
		t.Fatalf("expected ErrorCategoryValidation to be 'validation', got %q", ErrorCategoryValidation)
	}
}

func TestDefaultMiddlewaresExport(t *testing.T) {
	if got := len(DefaultMiddlewares()); got != 6 {
		t.Fatalf("expected 6 default middlewares, got %d", got)
	}
}
