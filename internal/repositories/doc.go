// Package repositories implements SQLite persistence for projects and their segments.
//
// Key Implementations:
//   - [ProjectRepository] : Project CRUD plus the segment operations the coordinator relies on
//
// Segment lists are always written wholesale: [ProjectRepository.UpdateSegments] and
// [ProjectRepository.SaveProject] delete a project's existing rows and insert the new list in
// one transaction, so a completed run replaces earlier results rather than merging with them.
package repositories
