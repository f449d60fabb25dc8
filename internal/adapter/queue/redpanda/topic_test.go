package redpanda

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

type fakeRequester struct {
	code int16
	err  error
	got  *kmsg.CreateTopicsRequest
}

func (f *fakeRequester) Request(_ context.Context, req kmsg.Request) (kmsg.Response, error) {
	f.got, _ = req.(*kmsg.CreateTopicsRequest)
	if f.err != nil {
		return nil, f.err
	}
	resp := kmsg.NewCreateTopicsResponse()
	t := kmsg.NewCreateTopicsResponseTopic()
	t.Topic = f.got.Topics[0].Topic
	t.ErrorCode = f.code
	resp.Topics = append(resp.Topics, t)
	return &resp, nil
}

func TestEnsureTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		code    int16
		err     error
		wantErr bool
	}{
		{"created", 0, nil, false},
		{"already exists", kerr.TopicAlreadyExists.Code, nil, false},
		{"invalid partitions", kerr.InvalidPartitions.Code, nil, true},
		{"request failure", 0, errors.New("dial"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeRequester{code: tt.code, err: tt.err}
			err := EnsureTopic(context.Background(), f, "analysis-requests", 3, 1)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, f.got.Topics, 1)
			assert.Equal(t, int32(3), f.got.Topics[0].NumPartitions)
		})
	}
}

func TestEnsureTopic_InvalidArguments(t *testing.T) {
	t.Parallel()

	f := &fakeRequester{}
	assert.Error(t, EnsureTopic(context.Background(), f, "", 1, 1))
	assert.Error(t, EnsureTopic(context.Background(), f, "t", 0, 1))
	assert.Error(t, EnsureTopic(context.Background(), f, "t", 1, 0))
	assert.Nil(t, f.got)
}
