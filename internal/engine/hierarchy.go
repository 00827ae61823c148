// Package engine holds the exam evaluation core: numbering of a flat record
// list, negative-marking scoring and the timed session state machine. Nothing
// here performs I/O.
package engine

import (
	"fmt"
	"strconv"

	"github.com/stemsi/exstem-runner/internal/model"
)

// Resolve returns the display metadata of records[index]. An index outside
// the list yields a zero Display with ParentIndex -1.
func Resolve(records []model.QuestionRecord, index int) model.Display {
	if index < 0 || index >= len(records) {
		return model.Display{Index: index, ParentIndex: -1}
	}
	parent := -1
	if rec := &records[index]; rec.IsSubQuestion {
		for i := range records {
			if records[i].ID == rec.ParentID {
				parent = i
				break
			}
		}
	}
	return display(records, index, parent)
}

// Outline resolves every index in one pass. The result is identical to
// calling Resolve for each index.
func Outline(records []model.QuestionRecord) []model.Display {
	first := firstIndexByID(records)
	out := make([]model.Display, len(records))
	for i := range records {
		parent := -1
		if records[i].IsSubQuestion {
			if p, ok := first[records[i].ParentID]; ok {
				parent = p
			}
		}
		out[i] = display(records, i, parent)
	}
	return out
}

func display(records []model.QuestionRecord, index, parent int) model.Display {
	rec := &records[index]
	if parent < 0 {
		role := model.RoleStandalone
		if rec.IsPassage() {
			role = model.RolePassage
		}
		return model.Display{
			Index:       index,
			Number:      strconv.Itoa(index + 1),
			Role:        role,
			ParentIndex: -1,
		}
	}
	return model.Display{
		Index:       index,
		Number:      fmt.Sprintf("%d.%d", parent+1, subOrder(rec)),
		Role:        model.RoleSubQuestion,
		ParentIndex: parent,
	}
}

// subOrder treats a missing, zero or negative sub order as 1.
func subOrder(rec *model.QuestionRecord) int {
	if rec.SubOrder == nil || *rec.SubOrder <= 0 {
		return 1
	}
	return *rec.SubOrder
}

func firstIndexByID(records []model.QuestionRecord) map[string]int {
	first := make(map[string]int, len(records))
	for i := range records {
		if _, seen := first[records[i].ID]; !seen {
			first[records[i].ID] = i
		}
	}
	return first
}

// Groups splits the list into presentation pages. A record that resolves
// as a parent leads a page together with every sub-question pointing at
// it; all other records are pages of one. Pages are ordered by their lead.
// A sub-question whose parent is itself a sub-question gets its own page.
func Groups(records []model.QuestionRecord) []model.Group {
	displays := Outline(records)
	children := make(map[int][]int)
	attached := make([]bool, len(displays))
	for _, d := range displays {
		if d.Role != model.RoleSubQuestion || d.ParentIndex == d.Index {
			continue
		}
		if displays[d.ParentIndex].Role == model.RoleSubQuestion {
			continue
		}
		children[d.ParentIndex] = append(children[d.ParentIndex], d.Index)
		attached[d.Index] = true
	}

	groups := make([]model.Group, 0, len(records))
	for _, d := range displays {
		if attached[d.Index] {
			continue
		}
		members := append([]int{d.Index}, children[d.Index]...)
		groups = append(groups, model.Group{Lead: d.Index, Members: members})
	}
	return groups
}

// GroupOf returns the position in groups of the page containing index, or
// -1.
func GroupOf(groups []model.Group, index int) int {
	for gi, g := range groups {
		for _, m := range g.Members {
			if m == index {
				return gi
			}
		}
	}
	return -1
}

// Inspect lists data-quality issues. None of them stop an exam from being
// presented or scored.
func Inspect(records []model.QuestionRecord) []model.Anomaly {
	var anomalies []model.Anomaly
	first := firstIndexByID(records)

	for i := range records {
		rec := &records[i]
		if first[rec.ID] != i {
			anomalies = append(anomalies, model.Anomaly{
				Kind:     model.AnomalyDuplicateID,
				Index:    i,
				RecordID: rec.ID,
				Detail:   fmt.Sprintf("id already used at position %d", first[rec.ID]+1),
			})
		}
		if rec.IsSubQuestion {
			if _, ok := first[rec.ParentID]; !ok {
				anomalies = append(anomalies, model.Anomaly{
					Kind:     model.AnomalyOrphanSubQuestion,
					Index:    i,
					RecordID: rec.ID,
					Detail:   fmt.Sprintf("parent %q not found, numbered as standalone", rec.ParentID),
				})
			}
		}
		if rec.IsScorable() && (rec.CorrectIndex < 0 || rec.CorrectIndex >= len(rec.Options)) {
			anomalies = append(anomalies, model.Anomaly{
				Kind:     model.AnomalyCorrectOutOfRange,
				Index:    i,
				RecordID: rec.ID,
				Detail:   fmt.Sprintf("correct index %d outside %d options", rec.CorrectIndex, len(rec.Options)),
			})
		}
	}

	seen := make(map[string]int)
	for _, d := range Outline(records) {
		if d.Role != model.RoleSubQuestion {
			continue
		}
		if prev, dup := seen[d.Number]; dup {
			anomalies = append(anomalies, model.Anomaly{
				Kind:     model.AnomalyDuplicateSubOrder,
				Index:    d.Index,
				RecordID: records[d.Index].ID,
				Detail:   fmt.Sprintf("number %s also used at position %d", d.Number, prev+1),
			})
			continue
		}
		seen[d.Number] = d.Index
	}
	return anomalies
}
