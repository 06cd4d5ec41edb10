package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/scene.sqlite)")
	actor := fs.String("actor", "", "actor filter (edits)")
	since := fs.Uint64("since", 0, "first revision (edits)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "exports"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "scene.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fail(1, "open:", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fail(1, "open:", err)
	}
	defer db.Close()
	if *limit <= 0 {
		*limit = 20
	}

	enc := json.NewEncoder(os.Stdout)
	switch q {
	case "exports":
		err = queryExports(db, *limit, func(r exportRow) error { return enc.Encode(r) })
	case "edits":
		err = queryEdits(db, *actor, *since, *limit, func(r editRow) error { return enc.Encode(r) })
	case "actors":
		err = queryActors(db, *limit, func(r actorRow) error { return enc.Encode(r) })
	default:
		fail(2, "unknown query:", q, "(want exports|edits|actors)")
	}
	if err != nil {
		fail(1, "query:", err)
	}
}

type exportRow struct {
	Revision  uint64 `json:"revision"`
	Path      string `json:"path"`
	LogExtent int    `json:"log_extent"`
	Nodes     int    `json:"nodes"`
	SHA256    string `json:"sha256"`
	CreatedAt string `json:"created_at"`
}

func queryExports(db *sql.DB, limit int, emit func(exportRow) error) error {
	rows, err := db.Query(`SELECT revision,path,log_extent,nodes,sha256,created_at FROM exports ORDER BY revision DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r exportRow
		if err := rows.Scan(&r.Revision, &r.Path, &r.LogExtent, &r.Nodes, &r.SHA256, &r.CreatedAt); err != nil {
			return err
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

type editRow struct {
	Revision  uint64  `json:"revision"`
	Kind      string  `json:"kind"`
	Actor     string  `json:"actor,omitempty"`
	Offset    *[3]int `json:"offset,omitempty"`
	Extent    *[3]int `json:"extent,omitempty"`
	Value     *uint32 `json:"value,omitempty"`
	LogExtent int     `json:"log_extent"`
	Nodes     int     `json:"nodes"`
}

func queryEdits(db *sql.DB, actor string, since uint64, limit int, emit func(editRow) error) error {
	rows, err := db.Query(`SELECT revision,kind,COALESCE(actor,''),x,y,z,ex,ey,ez,value,log_extent,nodes
		FROM edits WHERE revision>=? AND (?='' OR actor=?) ORDER BY revision ASC LIMIT ?`, since, actor, actor, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r editRow
		var x, y, z, ex, ey, ez, v sql.NullInt64
		if err := rows.Scan(&r.Revision, &r.Kind, &r.Actor, &x, &y, &z, &ex, &ey, &ez, &v, &r.LogExtent, &r.Nodes); err != nil {
			return err
		}
		if x.Valid {
			r.Offset = &[3]int{int(x.Int64), int(y.Int64), int(z.Int64)}
			r.Extent = &[3]int{int(ex.Int64), int(ey.Int64), int(ez.Int64)}
		}
		if v.Valid {
			u := uint32(v.Int64)
			r.Value = &u
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

type actorRow struct {
	Actor string `json:"actor"`
	Edits int    `json:"edits"`
	Last  uint64 `json:"last_revision"`
}

func queryActors(db *sql.DB, limit int, emit func(actorRow) error) error {
	rows, err := db.Query(`SELECT COALESCE(actor,''),COUNT(*),MAX(revision) FROM edits GROUP BY actor ORDER BY COUNT(*) DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r actorRow
		if err := rows.Scan(&r.Actor, &r.Edits, &r.Last); err != nil {
			return err
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
