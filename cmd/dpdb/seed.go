package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dpdb"
	"dpdb/entity"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "populate a fresh dpdb file with sample data",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	db, err := dpdb.Open(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	root, err := db.Root()
	if err != nil {
		return err
	}
	tx := entity.AutoCommit()

	students, err := root.PutMap(tx, "students")
	if err != nil {
		return err
	}
	for _, s := range []struct {
		id   string
		name string
		age  int64
	}{
		{"S001", "Alice", 20},
		{"S002", "Bob", 21},
		{"S003", "Carol", 19},
	} {
		row, err := students.PutMap(tx, s.id)
		if err != nil {
			return err
		}
		if err := row.Put(tx, "name", s.name); err != nil {
			return err
		}
		if err := row.Put(tx, "age", s.age); err != nil {
			return err
		}
	}

	courses, err := root.PutSequence(tx, "courses")
	if err != nil {
		return err
	}
	for _, title := range []string{"Intro to CS", "Data Structures"} {
		if _, err := courses.Push(tx, title); err != nil {
			return err
		}
	}

	fmt.Println("seeded", args[0], "with students map and courses sequence")
	return nil
}
