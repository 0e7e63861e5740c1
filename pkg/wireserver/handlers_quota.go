package wireserver

import (
	"context"
	"net"

	"gorm.io/gorm"

	"github.com/clusterfs/fleetmgmtd/pkg/mgmterr"
	"github.com/clusterfs/fleetmgmtd/pkg/store"
	"github.com/clusterfs/fleetmgmtd/pkg/transport"
	"github.com/clusterfs/fleetmgmtd/pkg/wire"
)

func handleSetExceededQuota(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeSetExceededQuota(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	if !d.Config.Get().QuotaEnable {
		return encodeGenericOK()
	}

	data := make([]store.QuotaData, 0, len(req.Reports))
	for _, r := range req.Reports {
		idType := store.QuotaIDUser
		if r.IsGroup {
			idType = store.QuotaIDGroup
		}
		data = append(data, store.QuotaData{QuotaID: r.QuotaID, IDType: idType, Space: r.Space, Inodes: r.Inodes})
	}

	_, err = store.WriteNoSync(ctx, d.Store.Engine, func(tx *gorm.DB) (struct{}, error) {
		return struct{}{}, store.UpsertQuotaUsage(tx, req.TargetID, data)
	})
	if err != nil {
		return encodeGenericError(err)
	}
	return encodeGenericOK()
}

func handleRequestExceededQuota(ctx context.Context, d *Dispatcher, auth *transport.ChannelAuth, peer net.Addr, h wire.Header, body []byte) (uint16, []byte, bool) {
	req, err := wire.DecodeRequestExceededQuota(wire.NewReader(body))
	if err != nil {
		return encodeGenericError(mgmterr.ErrUndecodable)
	}
	wantType := store.QuotaTypeSpace
	if !req.IsSpace {
		wantType = store.QuotaTypeInodes
	}
	wantIDType := store.QuotaIDUser
	if req.IsGroup {
		wantIDType = store.QuotaIDGroup
	}

	entries, err := store.Read(ctx, d.Store.Engine, func(tx *gorm.DB) ([]store.ExceededQuotaEntry, error) {
		return store.ExceededQuotaEntries(tx)
	})
	if err != nil {
		return encodeGenericError(err)
	}

	ids := make([]uint32, 0, len(entries))
	for _, e := range entries {
		if e.PoolID == req.PoolID && e.QuotaType == wantType && e.IDType == wantIDType {
			ids = append(ids, e.QuotaID)
		}
	}

	w := wire.NewWriter(nil)
	wire.RequestExceededQuotaRespMsg{IDs: ids}.Encode(w)
	return wire.MsgRequestExceededQuotaResp, w.Bytes(), true
}
