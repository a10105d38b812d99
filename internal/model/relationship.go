package model

// DeleteRule says what happens to a child collection when its owner is deleted.
type DeleteRule string

const (
	// DeleteCascade removes the children with the owner.
	DeleteCascade DeleteRule = "cascade"
	// DeleteNullify keeps the children and clears their reference to the owner.
	DeleteNullify DeleteRule = "nullify"
)

// Relationship names an owned child collection of Item and its delete rule.
type Relationship struct {
	Name string
	Rule DeleteRule
}

// Child collections of an item, in the order they are resolved on delete.
// Pending recurrences are nullified rather than cascaded: their snapshot is
// self-contained and must still materialize after the source is gone.
var ItemRelationships = []Relationship{
	{Name: "subtasks", Rule: DeleteCascade},
	{Name: "completions", Rule: DeleteCascade},
	{Name: "skips", Rule: DeleteCascade},
	{Name: "tags", Rule: DeleteCascade},
	{Name: "pending_recurrences", Rule: DeleteNullify},
}
