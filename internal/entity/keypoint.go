package entity

// KeypointVector is the flattened landmark encoding of a single frame.
type KeypointVector []float32

type FrameKind uint8

const (
	FrameKindUnknown      FrameKind = 0
	FrameKindEncodedImage FrameKind = 1
	FrameKindRawKeypoints FrameKind = 2
)

var FrameKindMap = map[FrameKind]string{
	FrameKindEncodedImage: "encoded_image",
	FrameKindRawKeypoints: "raw_keypoints",
}

func (f FrameKind) String() string {
	return FrameKindMap[f]
}

// Frame is a raw client frame tagged at the protocol boundary. Exactly one of
// Image or Keypoints is meaningful, selected by Kind.
type Frame struct {
	Kind      FrameKind
	Image     []byte
	Keypoints []float32
}

func NewEncodedImageFrame(image []byte) Frame {
	return Frame{Kind: FrameKindEncodedImage, Image: image}
}

func NewRawKeypointsFrame(keypoints []float32) Frame {
	return Frame{Kind: FrameKindRawKeypoints, Keypoints: keypoints}
}
