// Package catalog tracks datasets by name and materializes them lazily.
//
// A dataset is either registered as metadata only, in which case the first
// TryGet opens it from the store or loads its file, or created directly
// through CreateTabular and CreateGraph. Records live in the "catalog"
// collection, so registrations survive a restart.
package catalog
