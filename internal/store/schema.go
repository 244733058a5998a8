package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table and column definitions consumed by ent's migrator. Nested values
// (answer lists, factor maps, roadmap steps) are stored as JSON text.

func col(name string, typ field.Type) *schema.Column {
	return &schema.Column{Name: name, Type: typ}
}

func nullable(c *schema.Column) *schema.Column {
	c.Nullable = true
	return c
}

func index(name string, unique bool, cols ...*schema.Column) *schema.Index {
	return &schema.Index{Name: name, Unique: unique, Columns: cols}
}

var (
	studentsColumns = []*schema.Column{
		col("id", field.TypeString),
		col("enrolled_courses", field.TypeString),
		col("created_at", field.TypeTime),
	}
	studentsTable = &schema.Table{
		Name:       "students",
		Columns:    studentsColumns,
		PrimaryKey: []*schema.Column{studentsColumns[0]},
	}

	topicMasteryColumns = []*schema.Column{
		col("student_id", field.TypeString),
		col("topic", field.TypeString),
		col("mastery", field.TypeFloat64),
		col("confidence", field.TypeFloat64),
		col("observations", field.TypeInt),
		col("last_updated", field.TypeTime),
	}
	topicMasteryTable = &schema.Table{
		Name:       "topic_mastery",
		Columns:    topicMasteryColumns,
		PrimaryKey: []*schema.Column{topicMasteryColumns[0], topicMasteryColumns[1]},
	}

	gapsColumns = []*schema.Column{
		col("id", field.TypeString),
		col("student_id", field.TypeString),
		col("subject_area", field.TypeString),
		col("topic", field.TypeString),
		col("severity", field.TypeFloat64),
		col("detected_from", field.TypeString),
		col("resolved", field.TypeBool),
		nullable(col("resolved_at", field.TypeTime)),
		col("created_at", field.TypeTime),
	}
	gapsTable = &schema.Table{
		Name:       "knowledge_gaps",
		Columns:    gapsColumns,
		PrimaryKey: []*schema.Column{gapsColumns[0]},
		Indexes: []*schema.Index{
			index("knowledgegap_student_id_topic", false, gapsColumns[1], gapsColumns[3]),
		},
	}

	progressColumns = []*schema.Column{
		col("student_id", field.TypeString),
		col("content_id", field.TypeString),
		col("content_type", field.TypeString),
		col("status", field.TypeString),
		col("completion_percentage", field.TypeFloat64),
		col("time_spent_ms", field.TypeInt64),
		nullable(col("score", field.TypeFloat64)),
		col("version", field.TypeInt64),
		col("created_at", field.TypeTime),
		col("updated_at", field.TypeTime),
	}
	progressTable = &schema.Table{
		Name:       "progress_records",
		Columns:    progressColumns,
		PrimaryKey: []*schema.Column{progressColumns[0], progressColumns[1]},
	}

	blocksColumns = []*schema.Column{
		col("id", field.TypeString),
		col("student_id", field.TypeString),
		col("content_id", field.TypeString),
		col("reason", field.TypeString),
		col("blocked_by", field.TypeString),
		col("created_at", field.TypeTime),
		nullable(col("resolved_at", field.TypeTime)),
		col("resolved_by", field.TypeString),
	}
	blocksTable = &schema.Table{
		Name:       "progression_blocks",
		Columns:    blocksColumns,
		PrimaryKey: []*schema.Column{blocksColumns[0]},
		Indexes: []*schema.Index{
			index("progressionblock_student_id_content_id", false, blocksColumns[1], blocksColumns[2]),
		},
	}

	attemptsColumns = []*schema.Column{
		col("id", field.TypeString),
		col("student_id", field.TypeString),
		col("assessment_id", field.TypeString),
		col("answers", field.TypeString),
		col("score", field.TypeFloat64),
		col("passed", field.TypeBool),
		col("submitted_at", field.TypeTime),
		col("graded_by", field.TypeString),
		nullable(col("regraded_at", field.TypeTime)),
		nullable(col("analyzed_at", field.TypeTime)),
	}
	attemptsTable = &schema.Table{
		Name:       "assessment_attempts",
		Columns:    attemptsColumns,
		PrimaryKey: []*schema.Column{attemptsColumns[0]},
		Indexes: []*schema.Index{
			index("assessmentattempt_student_id", false, attemptsColumns[1]),
		},
	}

	assessmentsColumns = []*schema.Column{
		col("id", field.TypeString),
		col("student_id", field.TypeString),
		col("subject_area", field.TypeString),
		col("kind", field.TypeString),
		col("data", field.TypeString),
		col("created_at", field.TypeTime),
	}
	assessmentsTable = &schema.Table{
		Name:       "assessments",
		Columns:    assessmentsColumns,
		PrimaryKey: []*schema.Column{assessmentsColumns[0]},
	}

	interactionsColumns = []*schema.Column{
		{Name: "sequence", Type: field.TypeInt64},
		col("student_id", field.TypeString),
		col("content_id", field.TypeString),
		col("content_type", field.TypeString),
		col("type", field.TypeString),
		col("duration_ms", field.TypeInt64),
		col("timestamp", field.TypeTime),
	}
	interactionsTable = &schema.Table{
		Name:       "interactions",
		Columns:    interactionsColumns,
		PrimaryKey: []*schema.Column{interactionsColumns[0]},
		Indexes: []*schema.Index{
			index("interaction_student_id", false, interactionsColumns[1]),
		},
	}

	patternsColumns = []*schema.Column{
		col("student_id", field.TypeString),
		col("data", field.TypeString),
		col("computed_at", field.TypeTime),
	}
	patternsTable = &schema.Table{
		Name:       "engagement_patterns",
		Columns:    patternsColumns,
		PrimaryKey: []*schema.Column{patternsColumns[0]},
	}

	recommendationsColumns = []*schema.Column{
		col("id", field.TypeString),
		col("student_id", field.TypeString),
		col("content_id", field.TypeString),
		col("content_type", field.TypeString),
		col("rank", field.TypeInt),
		col("score", field.TypeFloat64),
		col("factors", field.TypeString),
		col("viewed", field.TypeBool),
		col("clicked", field.TypeBool),
		col("created_at", field.TypeTime),
		col("updated_at", field.TypeTime),
	}
	recommendationsTable = &schema.Table{
		Name:       "recommendations",
		Columns:    recommendationsColumns,
		PrimaryKey: []*schema.Column{recommendationsColumns[0]},
		Indexes: []*schema.Index{
			index("recommendation_student_id", false, recommendationsColumns[1]),
		},
	}

	roadmapsColumns = []*schema.Column{
		col("student_id", field.TypeString),
		col("id", field.TypeString),
		col("data", field.TypeString),
		col("status", field.TypeString),
		col("inputs_hash", field.TypeString),
		col("generated_at", field.TypeTime),
		col("updated_at", field.TypeTime),
	}
	roadmapsTable = &schema.Table{
		Name:       "roadmaps",
		Columns:    roadmapsColumns,
		PrimaryKey: []*schema.Column{roadmapsColumns[0]},
	}

	llmEventsColumns = []*schema.Column{
		{Name: "sequence", Type: field.TypeInt64},
		col("timestamp", field.TypeTime),
		col("provider", field.TypeString),
		col("model", field.TypeString),
		col("purpose", field.TypeString),
		col("input_tokens", field.TypeInt),
		col("output_tokens", field.TypeInt),
		col("latency_ms", field.TypeInt64),
		col("success", field.TypeBool),
		col("error_message", field.TypeString),
		col("request_body", field.TypeString),
		col("response_body", field.TypeString),
	}
	llmEventsTable = &schema.Table{
		Name:       "llm_request_events",
		Columns:    llmEventsColumns,
		PrimaryKey: []*schema.Column{llmEventsColumns[0]},
	}

	// Tables lists every table created by Open.
	Tables = []*schema.Table{
		studentsTable,
		topicMasteryTable,
		gapsTable,
		progressTable,
		blocksTable,
		attemptsTable,
		assessmentsTable,
		interactionsTable,
		patternsTable,
		recommendationsTable,
		roadmapsTable,
		llmEventsTable,
	}
)
