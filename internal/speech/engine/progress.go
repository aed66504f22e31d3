package engine

import "sync"

// Milestone names a pipeline step reported through ProgressFunc.
type Milestone string

const (
	MilestoneExtractionDone   Milestone = "extraction_done"
	MilestoneChunkingDone     Milestone = "chunking_done"
	MilestoneChunkTranscribed Milestone = "chunk_transcribed"
	MilestoneStitchingDone    Milestone = "stitching_done"
	MilestoneAssemblyDone     Milestone = "assembly_done"
)

// Progress is one milestone notification.
type Progress struct {
	Milestone Milestone
	// ChunkCount is set from chunking_done onwards.
	ChunkCount int
	// ChunkIndex is the chunk that finished, for chunk_transcribed.
	ChunkIndex int
	// ChunksDone counts transcribed chunks so far.
	ChunksDone int
}

// ProgressFunc receives milestones. Calls never overlap.
type ProgressFunc func(Progress)

// reporter serializes progress callbacks coming from worker goroutines.
type reporter struct {
	mu         sync.Mutex
	fn         ProgressFunc
	chunkCount int
	chunksDone int
}

func (r *reporter) emit(m Milestone) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn(Progress{Milestone: m, ChunkCount: r.chunkCount, ChunksDone: r.chunksDone})
}

func (r *reporter) chunking(count int) {
	r.mu.Lock()
	r.chunkCount = count
	r.mu.Unlock()
	r.emit(MilestoneChunkingDone)
}

func (r *reporter) chunkDone(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunksDone++
	if r.fn != nil {
		r.fn(Progress{
			Milestone:  MilestoneChunkTranscribed,
			ChunkCount: r.chunkCount,
			ChunkIndex: index,
			ChunksDone: r.chunksDone,
		})
	}
}
