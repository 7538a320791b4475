// Package dvm implements the data-vending-machine side of the Nostr
// protocol: decoding job requests and publishing status and result events.
package dvm

const (
	KindArchiveRequest = 5205
	KindRecoverRequest = 5206
	KindArchiveResult  = 6205
	KindRecoverResult  = 6206
	// Upload results share the recover result kind.
	KindUploadResult = KindRecoverResult
	KindStatus       = 7000

	KindHorizontalVideo = 34235
	KindVerticalVideo   = 34236
)

// Status values carried in the status tag of kind 7000 events.
const (
	StatusPaymentRequired = "payment-required"
	StatusProcessing      = "processing"
	StatusError           = "error"
	StatusSuccess         = "success"
	StatusPartial         = "partial"
)

// RequestKinds are the job request kinds the service answers.
var RequestKinds = []int{KindArchiveRequest, KindRecoverRequest}

// VideoKinds are the kinds of published video events.
var VideoKinds = []int{KindHorizontalVideo, KindVerticalVideo}

// IsRequestKind reports whether kind is a job request kind.
func IsRequestKind(kind int) bool {
	return kind == KindArchiveRequest || kind == KindRecoverRequest
}

// IsVideoKind reports whether kind is a video event kind.
func IsVideoKind(kind int) bool {
	return kind == KindHorizontalVideo || kind == KindVerticalVideo
}
