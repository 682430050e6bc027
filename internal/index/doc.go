// Package index is the bookkeeping catalog of uploaded archives. It maps
// filenames and descriptions to archive ids so retrievals can be requested
// by name, and keeps the inventories fetched from the service.
//
// Two backends share the Repository interface: a local SQLite file and a
// shared PostgreSQL database. Schemas are applied with goose on Open.
package index
