/*
Package varpath provides a structured representation for variable names
within a model's namespace, based on the dotted format used for both canonical
and promoted names, e.g., `cycle.d1.y1`.

The package centralizes the parsing, joining, and suffix-matching rules so
that the engine (which builds names while flattening a model) and the resolver
(which matches user selectors against them) agree on what a name is.
*/
package varpath
