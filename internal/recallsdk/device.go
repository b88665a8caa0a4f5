package recallsdk

import (
	"context"

	"github.com/imroc/req/v3"
)

const (
	v1DeviceView     = "/api/v1/device/view"
	v1DeviceOrphaned = "/api/v1/device/orphaned"
	v1DeviceList     = "/api/v1/device/list"
)

// BlobPresence is the per-hash coordination summary for one device.
type BlobPresence struct {
	ContentHash         string `json:"contentHash"`
	PresentOnThisDevice bool   `json:"presentOnThisDevice"`
	PresentElsewhere    bool   `json:"presentElsewhere"`
}

// OrphanedBlob is content known to exist on another device only.
type OrphanedBlob struct {
	ContentHash string `json:"contentHash"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mimeType"`
	Filename    string `json:"filename"`
}

type DeviceSummary struct {
	DeviceID   string `json:"deviceId"`
	BlobCount  int    `json:"blobCount"`
	LastSeenAt int64  `json:"lastSeenAt"`
}

type ViewResponse struct {
	Device string          `json:"device"`
	Blobs  []*BlobPresence `json:"blobs"`
}

type OrphanedResponse struct {
	Device   string          `json:"device"`
	Orphaned []*OrphanedBlob `json:"orphaned"`
}

type DevicesResponse struct {
	Devices []*DeviceSummary `json:"devices"`
}

type DeviceAPI struct {
	client *req.Client
}

func newDeviceAPI(client *req.Client) *DeviceAPI {
	return &DeviceAPI{client: client}
}

// View returns the presence summary for deviceID. Pass "" to use the device
// the token was minted for.
func (a *DeviceAPI) View(ctx context.Context, deviceID string) (*ViewResponse, error) {
	var apiResp *ViewResponse
	r := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp)
	if deviceID != "" {
		r.SetQueryParam("device", deviceID)
	}

	resp, err := r.Get(v1DeviceView)
	if err := handleAPIError(resp, err, "device view"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// Orphaned lists blobs present somewhere else but not on this device.
func (a *DeviceAPI) Orphaned(ctx context.Context) (*OrphanedResponse, error) {
	var apiResp *OrphanedResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1DeviceOrphaned)

	if err := handleAPIError(resp, err, "device orphaned"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// List returns every device holding content for the principal.
func (a *DeviceAPI) List(ctx context.Context) (*DevicesResponse, error) {
	var apiResp *DevicesResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1DeviceList)

	if err := handleAPIError(resp, err, "device list"); err != nil {
		return nil, err
	}
	return apiResp, nil
}
