package wire

// names backs Name, used for log fields and metric labels; the dispatch table itself
// lives in pkg/wireserver, which maps ids to decoder+handler pairs.
var names = map[uint16]string{
	MsgHeartbeat:                   "Heartbeat",
	MsgGetNodes:                    "GetNodes",
	MsgGetNodesResp:                "GetNodesResp",
	MsgRemoveNode:                  "RemoveNode",
	MsgRemoveNodeResp:              "RemoveNodeResp",
	MsgRegisterTarget:              "RegisterTarget",
	MsgRegisterTargetResp:          "RegisterTargetResp",
	MsgMapTargets:                  "MapTargets",
	MsgMapTargetsResp:              "MapTargetsResp",
	MsgGetTargetMappings:           "GetTargetMappings",
	MsgGetTargetMappingsResp:       "GetTargetMappingsResp",
	MsgSetTargetConsistency:        "SetTargetConsistency",
	MsgSetTargetConsistencyResp:    "SetTargetConsistencyResp",
	MsgRefreshTargetStates:         "RefreshTargetStates",
	MsgRefreshCapacityPools:        "RefreshCapacityPools",
	MsgRefreshStoragePools:         "RefreshStoragePools",
	MsgGetTargetStates:             "GetTargetStates",
	MsgGetTargetStatesResp:         "GetTargetStatesResp",
	MsgGetStatesAndBuddyGroups:     "GetStatesAndBuddyGroups",
	MsgGetStatesAndBuddyGroupsResp: "GetStatesAndBuddyGroupsResp",
	MsgSetTargetCapacities:         "SetTargetCapacities",
	MsgGetNodeCapacityPools:        "GetNodeCapacityPools",
	MsgGetNodeCapacityPoolsResp:    "GetNodeCapacityPoolsResp",
	MsgSetMirrorBuddyGroup:         "SetMirrorBuddyGroup",
	MsgSetMirrorBuddyGroupResp:     "SetMirrorBuddyGroupResp",
	MsgGetMirrorBuddyGroups:        "GetMirrorBuddyGroups",
	MsgGetMirrorBuddyGroupsResp:    "GetMirrorBuddyGroupsResp",
	MsgRemoveBuddyGroup:            "RemoveBuddyGroup",
	MsgRemoveBuddyGroupResp:        "RemoveBuddyGroupResp",
	MsgSetMetadataMirroring:        "SetMetadataMirroring",
	MsgSetMetadataMirroringResp:    "SetMetadataMirroringResp",
	MsgSetExceededQuota:            "SetExceededQuota",
	MsgSetExceededQuotaResp:        "SetExceededQuotaResp",
	MsgRequestExceededQuota:        "RequestExceededQuota",
	MsgRequestExceededQuotaResp:    "RequestExceededQuotaResp",
	MsgAck:                         "Ack",
	MsgAuthenticateChannel:         "AuthenticateChannel",
	MsgGenericResponse:             "GenericResponse",
}

// Name returns a human-readable name for a message id, or "unknown".
func Name(id uint16) string {
	if n, ok := names[id]; ok {
		return n
	}
	return "unknown"
}
