package main

// ConfigCmd prints the configuration an encode run would use.
type ConfigCmd struct {
	RunFlags `embed:""`
}

// Run executes the config command.
func (cmd *ConfigCmd) Run(g *Globals) error {
	cfg, err := cmd.load()
	if err != nil {
		return err
	}
	return cfg.Write(g.Stdout)
}
