// Package services holds the shared error taxonomy and context plumbing used
// by stage executors and the orchestrator. Per-service clients live in
// subpackages (demucs, whisperx, gemini).
package services
