package messagepipeline_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/illmade-knight/go-imagepipeline/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sizedPayload struct {
	Size int
}

// TestWithPayloadValidation tests the payload size validation decorator.
func TestWithPayloadValidation(t *testing.T) {
	var innerTransformerCalled bool
	innerTransformer := func(ctx context.Context, msg *messagepipeline.Message) (*sizedPayload, bool, error) {
		innerTransformerCalled = true
		return &sizedPayload{Size: len(msg.Payload)}, false, nil
	}

	testCases := []struct {
		name            string
		payloadSize     int
		minSize         int
		maxSize         int
		expectSkip      bool
		expectInnerCall bool
	}{
		{name: "within range", payloadSize: 20, minSize: 1, maxSize: 30, expectInnerCall: true},
		{name: "empty payload below minimum", payloadSize: 0, minSize: 1, maxSize: 30, expectSkip: true},
		{name: "oversized image", payloadSize: 31, minSize: 1, maxSize: 30, expectSkip: true},
		{name: "exactly max size", payloadSize: 30, minSize: 1, maxSize: 30, expectInnerCall: true},
		{name: "no upper bound", payloadSize: 1 << 20, minSize: 1, maxSize: 0, expectInnerCall: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			innerTransformerCalled = false

			// Arrange
			decorated := messagepipeline.WithPayloadValidation(innerTransformer, tc.minSize, tc.maxSize, zerolog.Nop())
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{
					ID:      "test-id-" + tc.name,
					Payload: bytes.Repeat([]byte("x"), tc.payloadSize),
				},
			}

			// Act
			payload, skip, err := decorated(context.Background(), msg)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tc.expectSkip, skip)
			assert.Equal(t, tc.expectInnerCall, innerTransformerCalled)
			if tc.expectInnerCall {
				require.NotNil(t, payload)
				assert.Equal(t, tc.payloadSize, payload.Size)
			}
		})
	}
}
