/*

Process of compilation

Program Text ->
	lex ->
Token Stream ->
	parse ->
Abstract Syntax Tree (ast) ->
	sem ->
Checked Tree ->
	ir ->
Three Address Code ->
	optimize / cfg / df ->
Reduced Three Address Code ->
	back ->
Assembly Text (nasm x86_64)

*/
package compiler
