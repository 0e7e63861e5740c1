package wire

// Message ids. This is a closed registry; unknown ids are logged and the
// connection is preserved (see wireserver.Dispatcher).
const (
	MsgHeartbeat             uint16 = 1020
	MsgGetNodes              uint16 = 1017
	MsgGetNodesResp          uint16 = 1018
	MsgRemoveNode            uint16 = 1019
	MsgRemoveNodeResp        uint16 = 1029
	MsgRegisterTarget        uint16 = 1030
	MsgRegisterTargetResp    uint16 = 1031
	MsgMapTargets            uint16 = 1023
	MsgMapTargetsResp        uint16 = 1024
	MsgGetTargetMappings     uint16 = 1025
	MsgGetTargetMappingsResp uint16 = 1026
	MsgSetTargetConsistency  uint16 = 1040
	MsgSetTargetConsistencyResp uint16 = 1041
	MsgRefreshTargetStates   uint16 = 1051
	MsgRefreshCapacityPools  uint16 = 1052
	MsgRefreshStoragePools   uint16 = 1053
	MsgGetTargetStates       uint16 = 1054
	MsgGetTargetStatesResp   uint16 = 1055
	MsgGetStatesAndBuddyGroups     uint16 = 1056
	MsgGetStatesAndBuddyGroupsResp uint16 = 1057
	MsgSetTargetCapacities   uint16 = 1060
	MsgGetNodeCapacityPools  uint16 = 1061
	MsgGetNodeCapacityPoolsResp uint16 = 1062
	MsgSetMirrorBuddyGroup     uint16 = 1045
	MsgSetMirrorBuddyGroupResp uint16 = 1046
	MsgGetMirrorBuddyGroups     uint16 = 1047
	MsgGetMirrorBuddyGroupsResp uint16 = 1048
	MsgRemoveBuddyGroup     uint16 = 1049
	MsgRemoveBuddyGroupResp uint16 = 1050
	MsgSetMetadataMirroring     uint16 = 1063
	MsgSetMetadataMirroringResp uint16 = 1064
	MsgSetExceededQuota     uint16 = 1070
	MsgSetExceededQuotaResp uint16 = 1071
	MsgRequestExceededQuota     uint16 = 1072
	MsgRequestExceededQuotaResp uint16 = 1073

	MsgAck                 uint16 = 4003
	MsgAuthenticateChannel uint16 = 4007
	MsgGenericResponse     uint16 = 4009
)

// NodeKind is the per-kind entity classification shared by nodes and
// the wire's node-type field (some fields widen it to u32 on the wire).
type NodeKind uint8

const (
	NodeMeta NodeKind = iota
	NodeStorage
	NodeClient
	NodeManagement
)

// NIC describes one published network interface.
type NIC struct {
	Addr [4]byte // ipv4
	Name string  // <=16 bytes
	Kind uint8   // 0 = ethernet, 1 = rdma
}

// HeartbeatMsg is sent by a peer to register or refresh its presence.
type HeartbeatMsg struct {
	Kind        NodeKind
	NumericID   uint16
	Alias       string
	Port        uint16
	NICs        []NIC
	Fingerprint string
	AckID       string
}

func (m HeartbeatMsg) Encode(w *Writer) {
	w.U32(uint32(m.Kind))
	w.U16(m.NumericID)
	w.CStr(m.Alias)
	w.U16(m.Port)
	w.U32(uint32(len(m.NICs)))
	for _, n := range m.NICs {
		w.buf = append(w.buf, n.Addr[:]...)
		w.CStr(n.Name)
		w.U8(n.Kind)
	}
	w.CStr(m.Fingerprint)
	w.CStr(m.AckID)
}

func DecodeHeartbeat(r *Reader) (HeartbeatMsg, error) {
	var m HeartbeatMsg
	kind, err := r.U32()
	if err != nil {
		return m, err
	}
	m.Kind = NodeKind(kind)
	if m.NumericID, err = r.U16(); err != nil {
		return m, err
	}
	if m.Alias, err = r.CStr(); err != nil {
		return m, err
	}
	if m.Port, err = r.U16(); err != nil {
		return m, err
	}
	count, err := r.U32()
	if err != nil {
		return m, err
	}
	m.NICs = make([]NIC, 0, count)
	for i := uint32(0); i < count; i++ {
		var n NIC
		if err := r.need(4); err != nil {
			return m, err
		}
		copy(n.Addr[:], r.buf[r.off:r.off+4])
		r.off += 4
		if n.Name, err = r.CStr(); err != nil {
			return m, err
		}
		if n.Kind, err = r.U8(); err != nil {
			return m, err
		}
		m.NICs = append(m.NICs, n)
	}
	if m.Fingerprint, err = r.CStr(); err != nil {
		return m, err
	}
	if m.AckID, err = r.CStr(); err != nil {
		return m, err
	}
	return m, nil
}

// AckMsg confirms receipt of a fire-and-forget UDP message.
type AckMsg struct {
	AckID string
}

func (m AckMsg) Encode(w *Writer) { w.CStr(m.AckID) }

func DecodeAck(r *Reader) (AckMsg, error) {
	s, err := r.CStr()
	return AckMsg{AckID: s}, err
}

// AuthenticateChannelMsg carries the 64-bit shared-secret value a stream
// must present before any other message is processed.
type AuthenticateChannelMsg struct {
	Secret uint64
}

func (m AuthenticateChannelMsg) Encode(w *Writer) { w.U64(m.Secret) }

func DecodeAuthenticateChannel(r *Reader) (AuthenticateChannelMsg, error) {
	v, err := r.U64()
	return AuthenticateChannelMsg{Secret: v}, err
}

// GenericResponseMsg carries a result code and optional human string,
// used as the reply for acknowledgement-only handlers.
type GenericResponseMsg struct {
	Code    int32
	Message string
}

func (m GenericResponseMsg) Encode(w *Writer) {
	w.I32(m.Code)
	w.CStr(m.Message)
}

func DecodeGenericResponse(r *Reader) (GenericResponseMsg, error) {
	var m GenericResponseMsg
	var err error
	if m.Code, err = r.I32(); err != nil {
		return m, err
	}
	if m.Message, err = r.CStr(); err != nil {
		return m, err
	}
	return m, nil
}

// MapTargetsMsg assigns a set of storage targets to a node.
type MapTargetsMsg struct {
	NodeNumericID uint16
	TargetIDs     []uint16
	PoolIDs       []uint16
}

func (m MapTargetsMsg) Encode(w *Writer) {
	w.U16(m.NodeNumericID)
	w.U32(uint32(len(m.TargetIDs)))
	for i, t := range m.TargetIDs {
		w.U16(t)
		w.U16(m.PoolIDs[i])
	}
}

func DecodeMapTargets(r *Reader) (MapTargetsMsg, error) {
	var m MapTargetsMsg
	var err error
	if m.NodeNumericID, err = r.U16(); err != nil {
		return m, err
	}
	n, err := r.U32()
	if err != nil {
		return m, err
	}
	m.TargetIDs = make([]uint16, n)
	m.PoolIDs = make([]uint16, n)
	for i := uint32(0); i < n; i++ {
		if m.TargetIDs[i], err = r.U16(); err != nil {
			return m, err
		}
		if m.PoolIDs[i], err = r.U16(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// SetMirrorBuddyGroupMsg notifies peers of a (new or changed) buddy
// group. SetMirrorBuddyGroupResp carries two explicit zero padding
// bytes after its code, preserved for bit-exact legacy compatibility.
type SetMirrorBuddyGroupMsg struct {
	Kind          NodeKind
	GroupID       uint16
	PrimaryID     uint16
	SecondaryID   uint16
	AllowUpdate   bool
}

func (m SetMirrorBuddyGroupMsg) Encode(w *Writer) {
	w.U32(uint32(m.Kind))
	w.U16(m.GroupID)
	w.U16(m.PrimaryID)
	w.U16(m.SecondaryID)
	w.Bool8(m.AllowUpdate)
}

func DecodeSetMirrorBuddyGroup(r *Reader) (SetMirrorBuddyGroupMsg, error) {
	var m SetMirrorBuddyGroupMsg
	var err error
	kind, err := r.U32()
	if err != nil {
		return m, err
	}
	m.Kind = NodeKind(kind)
	if m.GroupID, err = r.U16(); err != nil {
		return m, err
	}
	if m.PrimaryID, err = r.U16(); err != nil {
		return m, err
	}
	if m.SecondaryID, err = r.U16(); err != nil {
		return m, err
	}
	if m.AllowUpdate, err = r.Bool8(); err != nil {
		return m, err
	}
	return m, nil
}

// SetMirrorBuddyGroupRespMsg is followed on the wire by 2 zero padding
// bytes, matching the legacy layout exactly.
type SetMirrorBuddyGroupRespMsg struct {
	Code int32
}

func (m SetMirrorBuddyGroupRespMsg) Encode(w *Writer) {
	w.I32(m.Code)
	w.Zero(2)
}

func DecodeSetMirrorBuddyGroupResp(r *Reader) (SetMirrorBuddyGroupRespMsg, error) {
	code, err := r.I32()
	if err != nil {
		return SetMirrorBuddyGroupRespMsg{}, err
	}
	if err := r.Skip(2); err != nil {
		return SetMirrorBuddyGroupRespMsg{}, err
	}
	return SetMirrorBuddyGroupRespMsg{Code: code}, nil
}

// RefreshTargetStatesMsg, RefreshCapacityPoolsMsg, RefreshStoragePoolsMsg
// and SetMetadataMirroringMsg are empty-bodied fan-out notifications;
// the msg id alone is the instruction.
type RefreshTargetStatesMsg struct{}
type RefreshCapacityPoolsMsg struct{}
type RefreshStoragePoolsMsg struct{}
type SetMetadataMirroringMsg struct{}

func (RefreshTargetStatesMsg) Encode(*Writer)  {}
func (RefreshCapacityPoolsMsg) Encode(*Writer) {}
func (RefreshStoragePoolsMsg) Encode(*Writer)  {}
func (SetMetadataMirroringMsg) Encode(*Writer) {}

// GetNodesMsg requests the full node list for one kind.
type GetNodesMsg struct {
	Kind NodeKind
}

func (m GetNodesMsg) Encode(w *Writer) { w.U32(uint32(m.Kind)) }

func DecodeGetNodes(r *Reader) (GetNodesMsg, error) {
	kind, err := r.U32()
	return GetNodesMsg{Kind: NodeKind(kind)}, err
}

// NodeInfo is one row of a GetNodesResp listing.
type NodeInfo struct {
	NumericID uint16
	Alias     string
	Port      uint16
	NICs      []NIC
}

// GetNodesRespMsg answers GetNodes with every node of the requested kind.
type GetNodesRespMsg struct {
	Nodes []NodeInfo
}

func (m GetNodesRespMsg) Encode(w *Writer) {
	w.U32(uint32(len(m.Nodes)))
	for _, n := range m.Nodes {
		w.U16(n.NumericID)
		w.CStr(n.Alias)
		w.U16(n.Port)
		w.U32(uint32(len(n.NICs)))
		for _, nic := range n.NICs {
			w.buf = append(w.buf, nic.Addr[:]...)
			w.CStr(nic.Name)
			w.U8(nic.Kind)
		}
	}
}

func DecodeGetNodesResp(r *Reader) (GetNodesRespMsg, error) {
	var m GetNodesRespMsg
	count, err := r.U32()
	if err != nil {
		return m, err
	}
	m.Nodes = make([]NodeInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		var n NodeInfo
		var err error
		if n.NumericID, err = r.U16(); err != nil {
			return m, err
		}
		if n.Alias, err = r.CStr(); err != nil {
			return m, err
		}
		if n.Port, err = r.U16(); err != nil {
			return m, err
		}
		nicCount, err := r.U32()
		if err != nil {
			return m, err
		}
		n.NICs = make([]NIC, 0, nicCount)
		for j := uint32(0); j < nicCount; j++ {
			var nic NIC
			if err := r.need(4); err != nil {
				return m, err
			}
			copy(nic.Addr[:], r.buf[r.off:r.off+4])
			r.off += 4
			if nic.Name, err = r.CStr(); err != nil {
				return m, err
			}
			if nic.Kind, err = r.U8(); err != nil {
				return m, err
			}
			n.NICs = append(n.NICs, nic)
		}
		m.Nodes = append(m.Nodes, n)
	}
	return m, nil
}

// RemoveNodeMsg identifies the node to remove.
type RemoveNodeMsg struct {
	Kind      NodeKind
	NumericID uint16
}

func (m RemoveNodeMsg) Encode(w *Writer) {
	w.U32(uint32(m.Kind))
	w.U16(m.NumericID)
}

func DecodeRemoveNode(r *Reader) (RemoveNodeMsg, error) {
	kind, err := r.U32()
	if err != nil {
		return RemoveNodeMsg{}, err
	}
	id, err := r.U16()
	return RemoveNodeMsg{Kind: NodeKind(kind), NumericID: id}, err
}

// RegisterTargetMsg/RegisterTargetRespMsg register a bare storage
// target ahead of it being mapped to an owning node.
type RegisterTargetMsg struct {
	NumericID uint16
	Alias     string
}

func (m RegisterTargetMsg) Encode(w *Writer) {
	w.U16(m.NumericID)
	w.CStr(m.Alias)
}

func DecodeRegisterTarget(r *Reader) (RegisterTargetMsg, error) {
	var m RegisterTargetMsg
	var err error
	if m.NumericID, err = r.U16(); err != nil {
		return m, err
	}
	if m.Alias, err = r.CStr(); err != nil {
		return m, err
	}
	return m, nil
}

type RegisterTargetRespMsg struct {
	NumericID uint16
}

func (m RegisterTargetRespMsg) Encode(w *Writer) { w.U16(m.NumericID) }

// TargetCapacityReport carries one target's capacity snapshot, absent
// values encoded as -1 on the wire (never negative otherwise).
type TargetCapacityReport struct {
	TargetID    uint16
	TotalSpace  int64
	FreeSpace   int64
	TotalInodes int64
	FreeInodes  int64
}

// SetTargetCapacitiesMsg reports a batch of target capacity snapshots.
type SetTargetCapacitiesMsg struct {
	Reports []TargetCapacityReport
}

func (m SetTargetCapacitiesMsg) Encode(w *Writer) {
	w.U32(uint32(len(m.Reports)))
	for _, r := range m.Reports {
		w.U16(r.TargetID)
		w.I64(r.TotalSpace)
		w.I64(r.FreeSpace)
		w.I64(r.TotalInodes)
		w.I64(r.FreeInodes)
	}
}

func DecodeSetTargetCapacities(r *Reader) (SetTargetCapacitiesMsg, error) {
	var m SetTargetCapacitiesMsg
	count, err := r.U32()
	if err != nil {
		return m, err
	}
	m.Reports = make([]TargetCapacityReport, count)
	for i := range m.Reports {
		rep := &m.Reports[i]
		var err error
		if rep.TargetID, err = r.U16(); err != nil {
			return m, err
		}
		if rep.TotalSpace, err = r.I64(); err != nil {
			return m, err
		}
		if rep.FreeSpace, err = r.I64(); err != nil {
			return m, err
		}
		if rep.TotalInodes, err = r.I64(); err != nil {
			return m, err
		}
		if rep.FreeInodes, err = r.I64(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// SetTargetConsistencyMsg updates one target's reported consistency.
type SetTargetConsistencyMsg struct {
	Kind            NodeKind
	TargetID        uint16
	Consistency     uint8
	BumpLastContact bool
}

func (m SetTargetConsistencyMsg) Encode(w *Writer) {
	w.U32(uint32(m.Kind))
	w.U16(m.TargetID)
	w.U8(m.Consistency)
	w.Bool8(m.BumpLastContact)
}

func DecodeSetTargetConsistency(r *Reader) (SetTargetConsistencyMsg, error) {
	var m SetTargetConsistencyMsg
	kind, err := r.U32()
	if err != nil {
		return m, err
	}
	m.Kind = NodeKind(kind)
	if m.TargetID, err = r.U16(); err != nil {
		return m, err
	}
	if m.Consistency, err = r.U8(); err != nil {
		return m, err
	}
	if m.BumpLastContact, err = r.Bool8(); err != nil {
		return m, err
	}
	return m, nil
}

// TargetStateInfo is one row of a GetTargetStates response.
type TargetStateInfo struct {
	TargetID     uint16
	Consistency  uint8
	Reachability uint8
}

type GetTargetStatesMsg struct {
	Kind NodeKind
}

func (m GetTargetStatesMsg) Encode(w *Writer) { w.U32(uint32(m.Kind)) }

func DecodeGetTargetStates(r *Reader) (GetTargetStatesMsg, error) {
	kind, err := r.U32()
	return GetTargetStatesMsg{Kind: NodeKind(kind)}, err
}

type GetTargetStatesRespMsg struct {
	States []TargetStateInfo
}

func (m GetTargetStatesRespMsg) Encode(w *Writer) {
	w.U32(uint32(len(m.States)))
	for _, s := range m.States {
		w.U16(s.TargetID)
		w.U8(s.Consistency)
		w.U8(s.Reachability)
	}
}

func DecodeGetTargetStatesResp(r *Reader) (GetTargetStatesRespMsg, error) {
	var m GetTargetStatesRespMsg
	count, err := r.U32()
	if err != nil {
		return m, err
	}
	m.States = make([]TargetStateInfo, count)
	for i := range m.States {
		s := &m.States[i]
		if s.TargetID, err = r.U16(); err != nil {
			return m, err
		}
		if s.Consistency, err = r.U8(); err != nil {
			return m, err
		}
		if s.Reachability, err = r.U8(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// BuddyGroupInfo is one row of a GetMirrorBuddyGroups response.
type BuddyGroupInfo struct {
	GroupID     uint16
	PrimaryID   uint16
	SecondaryID uint16
}

type GetMirrorBuddyGroupsMsg struct {
	Kind NodeKind
}

func (m GetMirrorBuddyGroupsMsg) Encode(w *Writer) { w.U32(uint32(m.Kind)) }

func DecodeGetMirrorBuddyGroups(r *Reader) (GetMirrorBuddyGroupsMsg, error) {
	kind, err := r.U32()
	return GetMirrorBuddyGroupsMsg{Kind: NodeKind(kind)}, err
}

type GetMirrorBuddyGroupsRespMsg struct {
	Groups []BuddyGroupInfo
}

func (m GetMirrorBuddyGroupsRespMsg) Encode(w *Writer) {
	w.U32(uint32(len(m.Groups)))
	for _, g := range m.Groups {
		w.U16(g.GroupID)
		w.U16(g.PrimaryID)
		w.U16(g.SecondaryID)
	}
}

func DecodeGetMirrorBuddyGroupsResp(r *Reader) (GetMirrorBuddyGroupsRespMsg, error) {
	var m GetMirrorBuddyGroupsRespMsg
	count, err := r.U32()
	if err != nil {
		return m, err
	}
	m.Groups = make([]BuddyGroupInfo, count)
	for i := range m.Groups {
		g := &m.Groups[i]
		if g.GroupID, err = r.U16(); err != nil {
			return m, err
		}
		if g.PrimaryID, err = r.U16(); err != nil {
			return m, err
		}
		if g.SecondaryID, err = r.U16(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// SetMetadataMirroringReqMsg requests the root inode start mirroring
// from its current primary target.
type SetMetadataMirroringReqMsg struct {
	PrimaryTargetID uint16
}

func (m SetMetadataMirroringReqMsg) Encode(w *Writer) { w.U16(m.PrimaryTargetID) }

func DecodeSetMetadataMirroringReq(r *Reader) (SetMetadataMirroringReqMsg, error) {
	id, err := r.U16()
	return SetMetadataMirroringReqMsg{PrimaryTargetID: id}, err
}

// QuotaUsageReport carries one reported (space, inodes) usage pair for
// a single quota id, over SetExceededQuota's sibling usage-push path.
type QuotaUsageReport struct {
	QuotaID uint32
	IsGroup bool
	Space   int64
	Inodes  int64
}

type SetExceededQuotaMsg struct {
	TargetID uint16
	Reports  []QuotaUsageReport
}

func (m SetExceededQuotaMsg) Encode(w *Writer) {
	w.U16(m.TargetID)
	w.U32(uint32(len(m.Reports)))
	for _, r := range m.Reports {
		w.U32(r.QuotaID)
		w.Bool8(r.IsGroup)
		w.I64(r.Space)
		w.I64(r.Inodes)
	}
}

func DecodeSetExceededQuota(r *Reader) (SetExceededQuotaMsg, error) {
	var m SetExceededQuotaMsg
	var err error
	if m.TargetID, err = r.U16(); err != nil {
		return m, err
	}
	count, err := r.U32()
	if err != nil {
		return m, err
	}
	m.Reports = make([]QuotaUsageReport, count)
	for i := range m.Reports {
		rep := &m.Reports[i]
		if rep.QuotaID, err = r.U32(); err != nil {
			return m, err
		}
		if rep.IsGroup, err = r.Bool8(); err != nil {
			return m, err
		}
		if rep.Space, err = r.I64(); err != nil {
			return m, err
		}
		if rep.Inodes, err = r.I64(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// ExceededQuotaID is one (quota id, is-group) pair whose usage exceeds
// its applicable limit.
type ExceededQuotaID struct {
	QuotaID uint32
	IsGroup bool
}

type RequestExceededQuotaMsg struct {
	PoolID  uint16
	IsGroup bool
	IsSpace bool
}

func (m RequestExceededQuotaMsg) Encode(w *Writer) {
	w.U16(m.PoolID)
	w.Bool8(m.IsGroup)
	w.Bool8(m.IsSpace)
}

func DecodeRequestExceededQuota(r *Reader) (RequestExceededQuotaMsg, error) {
	var m RequestExceededQuotaMsg
	var err error
	if m.PoolID, err = r.U16(); err != nil {
		return m, err
	}
	if m.IsGroup, err = r.Bool8(); err != nil {
		return m, err
	}
	if m.IsSpace, err = r.Bool8(); err != nil {
		return m, err
	}
	return m, nil
}

type RequestExceededQuotaRespMsg struct {
	IDs []uint32
}

func (m RequestExceededQuotaRespMsg) Encode(w *Writer) {
	w.U32(uint32(len(m.IDs)))
	for _, id := range m.IDs {
		w.U32(id)
	}
}

func DecodeRequestExceededQuotaResp(r *Reader) (RequestExceededQuotaRespMsg, error) {
	count, err := r.U32()
	if err != nil {
		return RequestExceededQuotaRespMsg{}, err
	}
	ids := make([]uint32, count)
	for i := range ids {
		if ids[i], err = r.U32(); err != nil {
			return RequestExceededQuotaRespMsg{}, err
		}
	}
	return RequestExceededQuotaRespMsg{IDs: ids}, nil
}

// RemoveBuddyGroupMsg asks a node to drop its local knowledge of a group
// as part of the two-phase delete protocol.
type RemoveBuddyGroupMsg struct {
	Kind    NodeKind
	GroupID uint16
}

func (m RemoveBuddyGroupMsg) Encode(w *Writer) {
	w.U32(uint32(m.Kind))
	w.U16(m.GroupID)
}

func DecodeRemoveBuddyGroup(r *Reader) (RemoveBuddyGroupMsg, error) {
	var m RemoveBuddyGroupMsg
	kind, err := r.U32()
	if err != nil {
		return m, err
	}
	m.Kind = NodeKind(kind)
	if m.GroupID, err = r.U16(); err != nil {
		return m, err
	}
	return m, nil
}
