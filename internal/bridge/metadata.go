package bridge

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

// metadataMarshal produces byte-stable output so sizes reported to the
// worker match what is later written.
var metadataMarshal = proto.MarshalOptions{Deterministic: true}

func (s *Supervisor) metadataCarrier(callback, name string) (imaging.MetadataCarrier, error) {
	col, err := s.resolve(callback, name)
	if err != nil {
		return nil, err
	}
	mc, ok := col.(imaging.MetadataCarrier)
	if !ok {
		return nil, errors.NewCallbackError(callback,
			errors.Wrapf(errors.ErrInvalidInput, "collaborator %q carries no metadata", col.Name())).
			WithImage(col.Name())
	}
	return mc, nil
}

func encodeMetadata(mc imaging.MetadataCarrier) ([]byte, error) {
	m := mc.Metadata()
	if m == nil {
		return nil, nil
	}
	return metadataMarshal.Marshal(m)
}

// MetadataSize returns the serialized size of a collaborator's metadata, the
// capacity a worker needs to pass to GetProtobufMetadata.
func (s *Supervisor) MetadataSize(name string) (int, error) {
	mc, err := s.metadataCarrier(cbGetProtobufMetadata, name)
	if err != nil {
		return 0, err
	}
	data, err := encodeMetadata(mc)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (s *Supervisor) getProtobufMetadata(image string, out []byte) int {
	n := -1
	s.guard(cbGetProtobufMetadata, func() error {
		mc, err := s.metadataCarrier(cbGetProtobufMetadata, image)
		if err != nil {
			return err
		}
		data, err := encodeMetadata(mc)
		if err != nil {
			return errors.NewCallbackError(cbGetProtobufMetadata, err).WithImage(displayName(image))
		}
		if len(data) > len(out) {
			return errors.NewCallbackError(cbGetProtobufMetadata,
				errors.Wrapf(errors.ErrBufferTooSmall, "metadata needs %d bytes, worker allocated %d", len(data), len(out))).
				WithImage(displayName(image))
		}
		n = copy(out, data)
		return nil
	})
	return n
}

func (s *Supervisor) setProtobufMetadata(in []byte, image string) bool {
	return s.guard(cbSetProtobufMetadata, func() error {
		mc, err := s.metadataCarrier(cbSetProtobufMetadata, image)
		if err != nil {
			return err
		}
		m := &structpb.Struct{}
		if err := proto.Unmarshal(in, m); err != nil {
			return errors.NewCallbackError(cbSetProtobufMetadata,
				errors.Wrapf(errors.ErrInvalidInput, "decode metadata: %v", err)).
				WithImage(displayName(image))
		}
		mc.SetMetadata(m)
		return nil
	})
}
