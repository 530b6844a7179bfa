package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies watermill message metadata.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}

	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies metadata into a watermill map.
func ToWatermill(metadata Metadata) message.Metadata {
	if len(metadata) == 0 {
		return message.Metadata{}
	}

	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}

// NewMessage builds a watermill message carrying payload and metadata.
func NewMessage(uuid string, payload []byte, md Metadata) *message.Message {
	msg := message.NewMessage(uuid, payload)
	msg.Metadata = ToWatermill(md)
	return msg
}
