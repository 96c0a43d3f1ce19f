// Package weft extracts structural and historical facts from a repository
// and combines them into dependency and co-change matrices.
//
// A scan parses every supported file with tree-sitter, tags its entities
// (types, functions, methods, fields), and builds a per-file scope graph
// from declarative language rules. References are resolved across files by
// stitching cached partial paths, never by re-parsing. All per-file results
// are content-addressed: the cache key is (content hash, language, rule-set
// version), so unchanged files cost nothing on re-scan and history mining
// reuses work across commits that share blobs.
//
// Basic use:
//
//	engine, err := weft.New(weft.WithCacheDir(".weft"))
//	if err != nil { ... }
//	defer engine.Close()
//
//	res, err := engine.Scan(ctx, weft.ScanOptions{Root: ".", History: true})
//	if err != nil { ... }
//	res.WriteDSM(os.Stdout, "myproject", weft.FormatJSONV2)
//
// Problems with individual files, languages, or commits never fail a scan;
// they are collected as Result.Warnings.
package weft
