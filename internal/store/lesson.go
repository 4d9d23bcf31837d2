package store

// LessonsByFormation returns the lesson projections for one formation,
// ordered by position.
func (db *DB) LessonsByFormation(formationID string) ([]Lesson, error) {
	return db.queryLessons(`
		SELECT id, formation_id, level_id, title, content, position
		FROM lessons WHERE formation_id = ? ORDER BY position ASC`, formationID)
}

// LessonsByLevel returns the lesson projections for one level, ordered by position.
func (db *DB) LessonsByLevel(levelID string) ([]Lesson, error) {
	return db.queryLessons(`
		SELECT id, formation_id, level_id, title, content, position
		FROM lessons WHERE level_id = ? ORDER BY position ASC`, levelID)
}

func (db *DB) queryLessons(query string, arg any) ([]Lesson, error) {
	rows, err := db.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var lessons []Lesson
	for rows.Next() {
		var l Lesson
		if err := rows.Scan(&l.ID, &l.FormationID, &l.LevelID, &l.Title, &l.Content, &l.Position); err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}
