package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"sectionnet/core"
)

func identityGenerate(cmd *cobra.Command, args []string) error {
	path := args[0]
	id, err := core.GenerateIdentity()
	if err != nil {
		return err
	}
	if err := core.SaveIdentity(path, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote identity seed to %s\nname=%x\n", path, id.Name())
	return nil
}

func identityShow(cmd *cobra.Command, args []string) error {
	path := args[0]
	id, err := core.LoadIdentity(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "name=%x\npublic=%s\n", id.Name(), hex.EncodeToString(id.Public))
	return nil
}

var identityRootCmd = &cobra.Command{Use: "identity", Short: "Manage the node's Ed25519 identity seed"}

var identityGenerateCmd = &cobra.Command{
	Use:   "generate <seed-file>",
	Short: "Generate a fresh identity and persist its seed",
	Args:  cobra.ExactArgs(1),
	RunE:  identityGenerate,
}

var identityShowCmd = &cobra.Command{
	Use:   "show <seed-file>",
	Short: "Print the derived name and public key for a persisted identity",
	Args:  cobra.ExactArgs(1),
	RunE:  identityShow,
}

func init() {
	identityRootCmd.AddCommand(identityGenerateCmd, identityShowCmd)
}
