package main

// ListStreamsArgs defines arguments for the list_streams tool.
type ListStreamsArgs struct {
	IncludeFinished bool `json:"include_finished,omitempty" description:"Include streams that have already reached a terminal status (default: false)"`
}

// EngineStatsArgs defines arguments for the engine_stats tool. It takes no
// parameters; the struct exists so protocol.NewTool has a schema to derive.
type EngineStatsArgs struct{}

// CancelStreamArgs defines arguments for the cancel_stream tool.
type CancelStreamArgs struct {
	RequestID uint64 `json:"request_id" description:"Request id returned when the stream was submitted"`
	Reason    string `json:"reason,omitempty" description:"Reason recorded on the stream's terminal snapshot"`
}
